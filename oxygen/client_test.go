package oxygen

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-oxygen/scpi"
)

// binaryReply encodes values as a little-endian definite-length block the way
// the device answers in BIN_INTEL format.
func binaryReply(values ...float32) string {
	payload := make([]byte, 0, len(values)*4)
	for _, v := range values {
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
		payload = append(payload, word[:]...)
	}

	length := strconv.Itoa(len(payload))

	return "#" + strconv.Itoa(len(length)) + length + string(payload)
}

func TestClientSetNumberFormat_VersionGate(t *testing.T) {
	require := require.New(t)

	client, device := connectTestClient(t, handshakeReplies("1.6"))

	before := len(device.commands())

	err := client.SetNumberFormat(context.Background(), scpi.FormatBinaryIntel)
	require.ErrorIs(err, scpi.ErrVersionNotSupported)
	require.Len(device.commands(), before)
}

func TestClientSetNumberFormat_InvalidFormat(t *testing.T) {
	require := require.New(t)

	client, device := connectTestClient(t, handshakeReplies("1.21"))

	before := len(device.commands())

	err := client.SetNumberFormat(context.Background(), scpi.NumberFormat(9))
	require.ErrorIs(err, scpi.ErrInvalidArgument)
	require.Len(device.commands(), before)
}

func TestClientReadNumberFormat(t *testing.T) {
	require := require.New(t)

	replies := handshakeReplies("1.21")
	replies[":NUM:NORM:FORMAT?"] = ":NUM:FORMAT BIN_MOTOROLA"

	client, _ := connectTestClient(t, replies)

	format, err := client.ReadNumberFormat(context.Background())
	require.NoError(err)
	require.Equal(scpi.FormatBinaryMotorola, format)
}

func TestClientValues_ASCIIWithDimensions(t *testing.T) {
	require := require.New(t)

	replies := handshakeReplies("1.21")
	replies[":NUM:NORMAL:ITEMS?"] = `:NUM:ITEMS "AI 1/1","AI Avg","AI 1/2"`
	replies[":NUM:NORM:DIMS?"] = ":NUM:DIMS 1,3,1"
	replies[":NUM:NORM:VAL?"] = ":NUM:VAL 1,2,3,4,5"

	client, device := connectTestClient(t, replies)

	require.Equal([]string{"AI 1/1", "AI Avg", "AI 1/2"}, client.TransferChannels())
	require.Equal([]int{1, 3, 1}, client.Dimensions())
	require.Contains(device.commands(), ":NUM:NORMAL:NUMBER 3")

	values, err := client.Values(context.Background())
	require.NoError(err)
	require.Len(values, 3)

	require.Equal(scpi.KindFloat, values[0].Kind)
	require.InDelta(1.0, values[0].Float, 1e-12)

	require.Equal(scpi.KindGroup, values[1].Kind)
	require.Len(values[1].Group, 3)
	for i, v := range values[1].Group {
		require.InDelta(float64(i+2), v.Float, 1e-12)
	}

	require.Equal(scpi.KindFloat, values[2].Kind)
	require.InDelta(5.0, values[2].Float, 1e-12)
}

func TestClientValues_Binary(t *testing.T) {
	require := require.New(t)

	replies := handshakeReplies("1.21")
	replies[":NUM:NORM:VAL?"] = binaryReply(1.5, -2.25)

	client, _ := connectTestClient(t, replies)

	require.NoError(client.SetNumberFormat(context.Background(), scpi.FormatBinaryIntel))

	values, err := client.Values(context.Background())
	require.NoError(err)
	require.Len(values, 2)
	require.InDelta(1.5, values[0].Float, 1e-9)
	require.InDelta(-2.25, values[1].Float, 1e-9)
}

func TestClientSetTransferChannels_TimeColumnsFirst(t *testing.T) {
	require := require.New(t)

	items := "NONE"
	device := newFakeDevice(t, func(cmd string) (string, bool) {
		switch {
		case cmd == "*VER?":
			return `SCPI,"1999.0",RC_SCPI,"1.21",PYTEST,"1.0.0"`, true
		case cmd == ":NUM:NORMAL:ITEMS?":
			return ":NUM:ITEMS " + items, true
		case strings.HasPrefix(cmd, ":NUM:NORMAL:ITEMS "):
			items = strings.TrimPrefix(cmd, ":NUM:NORMAL:ITEMS ")
			return "", false
		case cmd == ":NUM:NORM:DIMS?":
			return ":NUM:DIMS 1,1,1", true
		case cmd == ":ELOG:ITEMS?":
			return ":ELOG:ITEMS NONE", true
		case cmd == ":ELOG:TIM?":
			return ":ELOG:TIM OFF", true
		case cmd == ":ELOG:CALC?":
			return ":ELOG:CALC AVG", true
		default:
			return "", false
		}
	})

	client := newTestClient(t, device.port())
	ctx := context.Background()
	require.NoError(client.Connect(ctx))

	require.NoError(client.SetTransferChannels(ctx, []string{"AI 1/1"}, true, true))

	require.Equal([]string{"ABS-TIME", "REL-TIME", "AI 1/1"}, client.TransferChannels())
	require.Equal([]int{1, 1, 1}, client.Dimensions())
	require.Contains(device.commands(), `:NUM:NORMAL:ITEMS "ABS-TIME","REL-TIME","AI 1/1"`)
	require.Contains(device.commands(), ":NUM:NORMAL:NUMBER 3")
}

func TestClientChannelList(t *testing.T) {
	require := require.New(t)

	replies := handshakeReplies("1.21")
	replies[":CHANNEL:NAMES?"] = `(1,"AI 1/1"),(2,"AI 1/2"),(3,"AI 1/1")`

	client, _ := connectTestClient(t, replies)

	channels, err := client.ChannelList(context.Background())
	require.NoError(err)
	require.Equal([]ChannelInfo{
		{ID: "1", Name: "AI 1/1"},
		{ID: "2", Name: "AI 1/2"},
		{ID: "3", Name: "AI 1/1"},
	}, channels)

	// duplicate names resolve last-wins
	byName, err := client.ChannelIDsByName(context.Background())
	require.NoError(err)
	require.Equal(map[string]string{"AI 1/1": "3", "AI 1/2": "2"}, byName)
}

func TestClientChannelList_Malformed(t *testing.T) {
	require := require.New(t)

	replies := handshakeReplies("1.21")
	replies[":CHANNEL:NAMES?"] = `(1,"AI 1/1"),(garbage)`

	client, _ := connectTestClient(t, replies)

	_, err := client.ChannelList(context.Background())
	require.ErrorIs(err, scpi.ErrDecode)
}

func TestClientAcquisitionState(t *testing.T) {
	require := require.New(t)

	replies := handshakeReplies("1.21")
	replies[":ACQU:STAT?"] = "Waiting_for_sync"

	client, _ := connectTestClient(t, replies)

	state, err := client.AcquisitionState(context.Background())
	require.NoError(err)
	require.Equal(scpi.AcqWaitingForSync, state)
}

func TestClientCommandFormatting(t *testing.T) {
	require := require.New(t)

	client, device := connectTestClient(t, handshakeReplies("1.21"))
	ctx := context.Background()

	require.NoError(client.SetStoreFileName(ctx, "run1.dmd"))
	require.NoError(client.StoreStart(ctx))
	require.NoError(client.StorePause(ctx))
	require.NoError(client.StoreStop(ctx))
	require.NoError(client.SetAggregationRate(ctx, 200*time.Millisecond))
	require.NoError(client.LoadSetup(ctx, "bench.dms"))
	require.NoError(client.LockScreen(ctx, true))
	require.NoError(client.AddMarker(ctx, "m1"))
	require.NoError(client.AddMarkerDescribedAt(ctx, "m2", "ramp done", 1.5))

	commands := device.commands()
	require.Contains(commands, `:STOR:FILE:NAME "run1.dmd"`)
	require.Contains(commands, ":STOR:START")
	require.Contains(commands, ":STOR:PAUSE")
	require.Contains(commands, ":STOR:STOP")
	require.Contains(commands, ":RATE 200ms")
	require.Contains(commands, `:SETUP:LOAD "bench.dms"`)
	require.Contains(commands, ":SYST:KLOCK ON")
	require.Contains(commands, `:MARK:ADD "m1"`)
	require.Contains(commands, `:MARK:ADD "m2","ramp done",1.500000`)
}

func TestClientSetAggregationRate_Invalid(t *testing.T) {
	require := require.New(t)

	client, device := connectTestClient(t, handshakeReplies("1.21"))

	before := len(device.commands())

	err := client.SetAggregationRate(context.Background(), 0)
	require.ErrorIs(err, scpi.ErrInvalidArgument)
	require.Len(device.commands(), before)
}
