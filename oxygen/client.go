package oxygen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-oxygen/internal/util"
	"github.com/arloliu/go-oxygen/logger"
	"github.com/arloliu/go-oxygen/scpi"
)

// Client is one logical session with an Oxygen SCPI device. It owns the
// underlying connection; the ELOG session and the data-stream control reach
// the device through the client and never own or close the socket.
//
// All methods are safe for serialized use only: the protocol carries no
// request identifiers, so callers must not overlap operations from multiple
// goroutines (the connection mutex keeps overlapping calls from corrupting
// the stream, but reply attribution is only meaningful single-flight).
type Client struct {
	cfg    *ConnectionConfig
	logger logger.Logger
	conn   *Connection

	version      scpi.Version
	versionKnown bool

	numberFormat     scpi.NumberFormat
	transferChannels []string
	dims             []int // nil when dimensions are unknown

	// Elog is the external-logging session of this client.
	Elog *ElogSession
	// Stream is the data-stream control of this client.
	Stream *DataStream
}

// NewClient creates a client for the device described by cfg.
func NewClient(cfg *ConnectionConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("connection config is nil")
	}

	c := &Client{
		cfg:          cfg,
		logger:       cfg.logger,
		conn:         newConnection(cfg),
		numberFormat: scpi.FormatASCII,
	}
	c.Elog = newElogSession(c)
	c.Stream = newDataStream(c)

	return c, nil
}

// Connect establishes the connection and performs the protocol handshake:
// response headers are disabled, the protocol version is read, and the
// local state is re-synchronized from the device (transfer channels, ELOG
// channels, ELOG timestamp mode, ELOG calculations). The device may carry
// configuration that predates this client's attach; the resync mirrors it.
//
// The steps run in exactly this order because the resync reads are gated on
// the version having been read first. The negotiated version is immutable
// for the lifetime of the session.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Open(ctx); err != nil {
		return err
	}

	if err := c.conn.Send(ctx, ":COMM:HEAD OFF"); err != nil {
		return err
	}

	ver, err := c.readVersion(ctx)
	if err != nil {
		return err
	}
	c.version = ver
	c.versionKnown = true

	if err := c.syncTransferChannels(ctx); err != nil {
		return err
	}

	if err := c.Elog.syncState(ctx); err != nil {
		return err
	}

	c.logger.Info("connected to device", "host", c.cfg.host, "port", c.cfg.port, "version", ver.String())

	return nil
}

// Disconnect closes the connection. It never fails; shutdown errors are
// logged and swallowed.
func (c *Client) Disconnect() {
	c.conn.Close()
}

// Connected reports whether the session is currently connected.
func (c *Client) Connected() bool {
	return c.conn.Connected()
}

// Version returns the negotiated protocol version. ok is false before the
// first successful Connect.
func (c *Client) Version() (ver scpi.Version, ok bool) {
	return c.version, c.versionKnown
}

// send forwards a command, applying the configured reconnect policy when
// the session is closed.
func (c *Client) send(ctx context.Context, cmd string) error {
	err := c.conn.Send(ctx, cmd)
	if errors.Is(err, scpi.ErrNotConnected) && c.cfg.autoReconnect {
		if err = c.Connect(ctx); err != nil {
			return err
		}
		return c.conn.Send(ctx, cmd)
	}

	return err
}

// ask forwards a query, applying the configured reconnect policy when the
// session is closed.
func (c *Client) ask(ctx context.Context, cmd string) ([]byte, error) {
	reply, err := c.conn.Ask(ctx, cmd)
	if errors.Is(err, scpi.ErrNotConnected) && c.cfg.autoReconnect {
		if err = c.Connect(ctx); err != nil {
			return nil, err
		}
		return c.conn.Ask(ctx, cmd)
	}

	return reply, err
}

// askLine forwards a query and returns the reply as a trimmed string.
func (c *Client) askLine(ctx context.Context, cmd string) (string, error) {
	reply, err := c.ask(ctx, cmd)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(reply)), nil
}

func (c *Client) readVersion(ctx context.Context) (scpi.Version, error) {
	line, err := c.askLine(ctx, "*VER?")
	if err != nil {
		return scpi.Version{}, err
	}

	return scpi.ParseVersionReply(line)
}

// requireVersion gates a feature on the negotiated protocol version.
// Unsupported features fail before any wire traffic is sent.
func (c *Client) requireVersion(min scpi.Version, feature string) error {
	if !c.versionKnown || !c.version.AtLeast(min) {
		return fmt.Errorf("%w: %s requires protocol version %s", scpi.ErrVersionNotSupported, feature, min.String())
	}

	return nil
}

// Identity queries the device identification string: a comma-separated
// four-field reply carrying manufacturer, product name, serial number and
// revision.
func (c *Client) Identity(ctx context.Context) (string, error) {
	return c.askLine(ctx, "*IDN?")
}

// Reset resets the current SCPI session on the device.
func (c *Client) Reset(ctx context.Context) error {
	return c.send(ctx, "*RST")
}

// SetAggregationRate sets the aggregation interval of the measurement
// device.
func (c *Client) SetAggregationRate(ctx context.Context, rate time.Duration) error {
	if rate <= 0 {
		return fmt.Errorf("%w: aggregation rate must be positive", scpi.ErrInvalidArgument)
	}

	return c.send(ctx, fmt.Sprintf(":RATE %dms", rate.Milliseconds()))
}

// LoadSetup loads the named measurement setup (.dms) on the device.
func (c *Client) LoadSetup(ctx context.Context, setupName string) error {
	return c.send(ctx, fmt.Sprintf(":SETUP:LOAD %q", setupName))
}

// LockScreen locks or unlocks the device screen.
func (c *Client) LockScreen(ctx context.Context, locked bool) error {
	if locked {
		return c.send(ctx, ":SYST:KLOCK ON")
	}

	return c.send(ctx, ":SYST:KLOCK OFF")
}

// ErrorSingle queries the oldest entry of the device error queue.
func (c *Client) ErrorSingle(ctx context.Context) (string, error) {
	return c.askLine(ctx, ":SYST:ERR?")
}

// ErrorAll queries all entries of the device error queue.
func (c *Client) ErrorAll(ctx context.Context) (string, error) {
	return c.askLine(ctx, ":SYST:ERR:ALL?")
}

// syncTransferChannels re-reads the numeric-transfer channel selection from
// the device, refreshes the transfer count, and refreshes the dimension
// vector when the version supports it. Runs on connect and after every
// SetTransferChannels.
func (c *Client) syncTransferChannels(ctx context.Context) error {
	line, err := c.askLine(ctx, ":NUM:NORMAL:ITEMS?")
	if err != nil {
		return err
	}

	names := util.SplitQuoted(util.StripHeader(line))
	if len(names) == 0 {
		c.logger.Warn("no transfer channels set")
	}
	c.transferChannels = names

	if err := c.send(ctx, fmt.Sprintf(":NUM:NORMAL:NUMBER %d", len(names))); err != nil {
		return err
	}

	// The dimension query wedges the device when no channels are selected,
	// so it is skipped for an empty selection.
	if c.versionKnown && c.version.AtLeast(scpi.VersionDimensions) && len(names) > 0 {
		return c.refreshDimensions(ctx)
	}

	c.dims = nil

	return nil
}

// SetTransferChannels selects the channels transferred by the numeric
// system and confirms the selection by re-reading it from the device.
// includeRelTime and includeAbsTime prepend the REL-TIME and ABS-TIME
// pseudo channels.
func (c *Client) SetTransferChannels(ctx context.Context, channelNames []string, includeRelTime, includeAbsTime bool) error {
	names := make([]string, 0, len(channelNames)+2)
	if includeAbsTime {
		names = append(names, "ABS-TIME")
	}
	if includeRelTime {
		names = append(names, "REL-TIME")
	}
	names = append(names, channelNames...)

	if err := c.send(ctx, ":NUM:NORMAL:ITEMS "+util.QuoteJoin(names)); err != nil {
		return err
	}

	return c.syncTransferChannels(ctx)
}

// TransferChannels returns the last confirmed numeric-transfer channel
// selection.
func (c *Client) TransferChannels() []string {
	return append([]string(nil), c.transferChannels...)
}

// SetNumberFormat selects the encoding of numeric query replies.
//
// Available since protocol version 1.20.
func (c *Client) SetNumberFormat(ctx context.Context, format scpi.NumberFormat) error {
	if err := c.requireVersion(scpi.VersionNumberFormat, ":NUM:NORMAL:FORMAT"); err != nil {
		return err
	}

	switch format {
	case scpi.FormatASCII, scpi.FormatBinaryIntel, scpi.FormatBinaryMotorola:
	default:
		return fmt.Errorf("%w: unknown number format %d", scpi.ErrInvalidArgument, format)
	}

	if err := c.send(ctx, ":NUM:NORMAL:FORMAT "+format.Token()); err != nil {
		return err
	}
	c.numberFormat = format

	return nil
}

// NumberFormat returns the number format the client decodes numeric query
// replies with. It tracks the last successful SetNumberFormat and defaults
// to ASCII.
func (c *Client) NumberFormat() scpi.NumberFormat {
	return c.numberFormat
}

// ReadNumberFormat queries the currently selected number format from the
// device.
//
// Available since protocol version 1.20.
func (c *Client) ReadNumberFormat(ctx context.Context) (scpi.NumberFormat, error) {
	if err := c.requireVersion(scpi.VersionNumberFormat, ":NUM:NORMAL:FORMAT?"); err != nil {
		return scpi.FormatASCII, err
	}

	line, err := c.askLine(ctx, ":NUM:NORM:FORMAT?")
	if err != nil {
		return scpi.FormatASCII, err
	}

	return scpi.ParseNumberFormat(util.StripHeader(line))
}

// refreshDimensions re-reads the per-channel dimension vector.
//
// Available since protocol version 1.6.
func (c *Client) refreshDimensions(ctx context.Context) error {
	line, err := c.askLine(ctx, ":NUM:NORM:DIMS?")
	if err != nil {
		return err
	}

	dims, err := scpi.ParseDimensions(util.StripHeader(line))
	if err != nil {
		return err
	}
	c.dims = dims

	return nil
}

// Dimensions returns the last read per-channel dimension vector, or nil if
// dimensions are unknown. It parallels TransferChannels: one entry per
// selected channel.
func (c *Client) Dimensions() []int {
	if c.dims == nil {
		return nil
	}

	return append([]int(nil), c.dims...)
}

// SetMaxDimensions requests the maximum dimension for every transfer
// channel and re-reads the dimension vector.
func (c *Client) SetMaxDimensions(ctx context.Context) error {
	if err := c.requireVersion(scpi.VersionDimensions, ":NUM:NORM:DIMS?"); err != nil {
		return err
	}
	if len(c.transferChannels) == 0 {
		return fmt.Errorf("%w: no transfer channels set", scpi.ErrInvalidArgument)
	}

	if err := c.refreshDimensions(ctx); err != nil {
		return err
	}

	for idx := range c.dims {
		if err := c.send(ctx, fmt.Sprintf(":NUM:NORMAL:DIM%d MAX", idx+1)); err != nil {
			return err
		}
	}

	return c.refreshDimensions(ctx)
}

// Values queries the current values of the selected transfer channels. The
// payload is decoded per the selected number format and expanded by the
// per-channel dimension vector when it is known: scalar channels yield one
// value, vector channels yield one group.
func (c *Client) Values(ctx context.Context) ([]scpi.Value, error) {
	reply, err := c.ask(ctx, ":NUM:NORM:VAL?")
	if err != nil {
		return nil, err
	}

	payload := reply
	if len(payload) > 0 && payload[0] == ':' {
		if idx := bytes.IndexByte(payload, ' '); idx >= 0 {
			payload = payload[idx+1:]
		}
	}
	if len(payload) > 1 && payload[len(payload)-1] == '\n' {
		payload = payload[:len(payload)-1]
	}

	values, err := scpi.DecodeValues(payload, c.numberFormat)
	if err != nil {
		return nil, err
	}

	return scpi.ExpandDimensions(values, c.dims)
}

// SetStoreFileName sets the file name for the subsequent storing action.
// The file is stored in the default measurement folder on the device.
func (c *Client) SetStoreFileName(ctx context.Context, fileName string) error {
	return c.send(ctx, fmt.Sprintf(":STOR:FILE:NAME %q", fileName))
}

// StoreStart starts the storing action, or resumes it if paused.
func (c *Client) StoreStart(ctx context.Context) error {
	return c.send(ctx, ":STOR:START")
}

// StorePause pauses the storing action.
func (c *Client) StorePause(ctx context.Context) error {
	return c.send(ctx, ":STOR:PAUSE")
}

// StoreStop stops the storing action and finishes the data file.
func (c *Client) StoreStop(ctx context.Context) error {
	return c.send(ctx, ":STOR:STOP")
}

// StartAcquisition starts the acquisition on the device.
func (c *Client) StartAcquisition(ctx context.Context) error {
	return c.send(ctx, ":ACQU:START")
}

// StopAcquisition stops the acquisition on the device.
func (c *Client) StopAcquisition(ctx context.Context) error {
	return c.send(ctx, ":ACQU:STOP")
}

// RestartAcquisition restarts the acquisition on the device.
func (c *Client) RestartAcquisition(ctx context.Context) error {
	return c.send(ctx, ":ACQU:RESTART")
}

// AcquisitionState queries the device acquisition run state.
func (c *Client) AcquisitionState(ctx context.Context) (scpi.AcquisitionState, error) {
	line, err := c.askLine(ctx, ":ACQU:STAT?")
	if err != nil {
		return "", err
	}

	return scpi.ParseAcquisitionState(util.StripHeader(line))
}

// AddMarker adds a marker with the given label at the current time.
func (c *Client) AddMarker(ctx context.Context, label string) error {
	return c.send(ctx, fmt.Sprintf(":MARK:ADD %q", label))
}

// AddMarkerAt adds a marker with the given label at the given recording
// offset in seconds.
func (c *Client) AddMarkerAt(ctx context.Context, label string, offset float64) error {
	return c.send(ctx, fmt.Sprintf(":MARK:ADD %q,%f", label, offset))
}

// AddMarkerDescribed adds a marker with a label and a description at the
// current time.
func (c *Client) AddMarkerDescribed(ctx context.Context, label, description string) error {
	return c.send(ctx, fmt.Sprintf(":MARK:ADD %q,%q", label, description))
}

// AddMarkerDescribedAt adds a marker with a label and a description at the
// given recording offset in seconds.
func (c *Client) AddMarkerDescribedAt(ctx context.Context, label, description string, offset float64) error {
	return c.send(ctx, fmt.Sprintf(":MARK:ADD %q,%q,%f", label, description, offset))
}

// ChannelInfo is one entry of the device channel list.
type ChannelInfo struct {
	ID   string
	Name string
}

// ChannelList queries all channels known to the device as (id, name) pairs.
func (c *Client) ChannelList(ctx context.Context) ([]ChannelInfo, error) {
	line, err := c.askLine(ctx, ":CHANNEL:NAMES?")
	if err != nil {
		return nil, err
	}

	entries := strings.Split(line, "),(")
	channels := make([]ChannelInfo, 0, len(entries))
	for _, entry := range entries {
		entry = strings.ReplaceAll(entry, "(", "")
		entry = strings.ReplaceAll(entry, ")", "")
		entry = strings.ReplaceAll(entry, `"`, "")

		fields := strings.SplitN(entry, ",", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: malformed channel list entry %q", scpi.ErrDecode, entry)
		}
		channels = append(channels, ChannelInfo{ID: fields[0], Name: fields[1]})
	}

	return channels, nil
}

// ChannelIDsByName queries the channel list and maps channel names to ids.
// Duplicate names are kept last-wins and logged.
func (c *Client) ChannelIDsByName(ctx context.Context) (map[string]string, error) {
	channels, err := c.ChannelList(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(channels))
	for _, ch := range channels {
		if _, ok := byName[ch.Name]; ok {
			c.logger.Warn("channel name duplicate detected", "name", ch.Name)
		}
		byName[ch.Name] = ch.ID
	}

	return byName, nil
}

// ChannelPropValue queries a specific property (config item) of a channel.
func (c *Client) ChannelPropValue(ctx context.Context, channelID, property string) (string, error) {
	return c.askLine(ctx, fmt.Sprintf(":CHANNEL:PROP? %q,%q", channelID, property))
}

// SetChannelPropValue sets a specific property (config item) of a channel.
func (c *Client) SetChannelPropValue(ctx context.Context, channelID, property, value string) error {
	return c.send(ctx, fmt.Sprintf(":CHANNEL:PROP %q,%q,%q", channelID, property, value))
}

// ChannelPropNames queries the property names available on a channel.
func (c *Client) ChannelPropNames(ctx context.Context, channelID string) ([]string, error) {
	line, err := c.askLine(ctx, fmt.Sprintf(":CHANNEL:ITEM%s:ATTR:NAMES?", channelID))
	if err != nil {
		return nil, err
	}

	return strings.Split(strings.ReplaceAll(line, `"`, ""), ","), nil
}

// ChannelPropConstraint queries the constraints of a specific property
// (config item) of a channel.
func (c *Client) ChannelPropConstraint(ctx context.Context, channelID, property string) (string, error) {
	return c.askLine(ctx, fmt.Sprintf(":CHANNEL:CONSTR? %q,%q", channelID, property))
}
