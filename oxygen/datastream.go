package oxygen

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-oxygen/internal/util"
	"github.com/arloliu/go-oxygen/scpi"
)

// StreamGroup addresses data-stream groups: a positive group index, or
// AllGroups to address every group at once.
type StreamGroup int

// AllGroups addresses every data-stream group.
const AllGroups StreamGroup = 0

func (g StreamGroup) arg() string {
	if g == AllGroups {
		return "ALL"
	}

	return fmt.Sprintf("%d", int(g))
}

func (g StreamGroup) valid() bool {
	return g == AllGroups || g >= 1
}

// DataStream controls the data-stream (DST) subsystem: grouped continuous
// numeric streaming to per-group TCP ports, independent of ELOG. All
// operations are plain command emissions through the owning client; the
// only local state is the last confirmed item list per group.
type DataStream struct {
	client *Client // non-owning

	// items holds the last device-confirmed item list per group index.
	items *xsync.MapOf[int, []string]
}

func newDataStream(c *Client) *DataStream {
	return &DataStream{
		client: c,
		items:  xsync.NewMapOf[int, []string](),
	}
}

// SetItems selects the channels streamed by the given group and confirms
// the selection by re-reading it; the round-trip must come back non-empty.
//
// Available since protocol version 1.7.
func (d *DataStream) SetItems(ctx context.Context, group int, channelNames []string) error {
	if err := d.client.requireVersion(scpi.VersionItemLists, ":DST:ITEM"); err != nil {
		return err
	}
	if group < 1 {
		return fmt.Errorf("%w: stream group must be >= 1", scpi.ErrInvalidArgument)
	}

	if err := d.client.send(ctx, fmt.Sprintf(":DST:ITEM%d %s", group, util.QuoteJoin(channelNames))); err != nil {
		return err
	}

	line, err := d.client.askLine(ctx, fmt.Sprintf(":DST:ITEM%d?", group))
	if err != nil {
		return err
	}

	names := util.SplitQuoted(util.StripHeader(line))
	d.items.Store(group, names)
	if len(names) == 0 {
		return fmt.Errorf("%w: device confirmed no items for stream group %d", scpi.ErrNoData, group)
	}

	return nil
}

// Items returns the last confirmed item list for the given group.
func (d *DataStream) Items(group int) ([]string, bool) {
	names, ok := d.items.Load(group)
	if !ok {
		return nil, false
	}

	return append([]string(nil), names...), true
}

// SetPort sets the destination TCP port of the given group.
func (d *DataStream) SetPort(ctx context.Context, group, port int) error {
	if group < 1 {
		return fmt.Errorf("%w: stream group must be >= 1", scpi.ErrInvalidArgument)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port is out of range [1, 65535]", scpi.ErrInvalidArgument)
	}

	return d.client.send(ctx, fmt.Sprintf(":DST:PORT%d %d", group, port))
}

// Init initializes the given group, or all groups.
func (d *DataStream) Init(ctx context.Context, group StreamGroup) error {
	if !group.valid() {
		return fmt.Errorf("%w: invalid stream group %d", scpi.ErrInvalidArgument, int(group))
	}

	return d.client.send(ctx, ":DST:INIT "+group.arg())
}

// Start starts streaming for the given group, or all groups.
func (d *DataStream) Start(ctx context.Context, group StreamGroup) error {
	if !group.valid() {
		return fmt.Errorf("%w: invalid stream group %d", scpi.ErrInvalidArgument, int(group))
	}

	return d.client.send(ctx, ":DST:START "+group.arg())
}

// Stop stops streaming for the given group, or all groups.
func (d *DataStream) Stop(ctx context.Context, group StreamGroup) error {
	if !group.valid() {
		return fmt.Errorf("%w: invalid stream group %d", scpi.ErrInvalidArgument, int(group))
	}

	return d.client.send(ctx, ":DST:STOP "+group.arg())
}

// State queries the streaming state of the given group.
func (d *DataStream) State(ctx context.Context, group int) (string, error) {
	if group < 1 {
		return "", fmt.Errorf("%w: stream group must be >= 1", scpi.ErrInvalidArgument)
	}

	line, err := d.client.askLine(ctx, fmt.Sprintf(":DST:STAT%d?", group))
	if err != nil {
		return "", err
	}

	return util.StripHeader(line), nil
}

// SetTriggered enables or disables triggered streaming for the given group.
func (d *DataStream) SetTriggered(ctx context.Context, group int, triggered bool) error {
	if group < 1 {
		return fmt.Errorf("%w: stream group must be >= 1", scpi.ErrInvalidArgument)
	}

	arg := "OFF"
	if triggered {
		arg = "ON"
	}

	return d.client.send(ctx, fmt.Sprintf(":DST:TRIG%d %s", group, arg))
}

// SetInterval sets the sample interval of the given group in milliseconds.
func (d *DataStream) SetInterval(ctx context.Context, group, intervalMs int) error {
	if group < 1 {
		return fmt.Errorf("%w: stream group must be >= 1", scpi.ErrInvalidArgument)
	}
	if intervalMs < 1 {
		return fmt.Errorf("%w: stream interval must be positive", scpi.ErrInvalidArgument)
	}

	return d.client.send(ctx, fmt.Sprintf(":DST:INTERVAL%d %d", group, intervalMs))
}

// SetReplayMode selects live streaming or buffered bulk replay for the
// given group.
func (d *DataStream) SetReplayMode(ctx context.Context, group int, mode scpi.ReplayMode) error {
	if group < 1 {
		return fmt.Errorf("%w: stream group must be >= 1", scpi.ErrInvalidArgument)
	}

	switch mode {
	case scpi.ReplayLive, scpi.ReplayBulk:
	default:
		return fmt.Errorf("%w: unknown replay mode %q", scpi.ErrInvalidArgument, string(mode))
	}

	return d.client.send(ctx, fmt.Sprintf(":DST:REPLAY%d %s", group, string(mode)))
}

// Reset resets the whole data-stream subsystem.
func (d *DataStream) Reset(ctx context.Context) error {
	return d.client.send(ctx, ":DST:RESET")
}
