package oxygen

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-oxygen/scpi"
)

// newElogDevice builds a fake device that echoes ELOG configuration writes
// back on the matching queries, the way the real device confirms settings.
// fetch handles :ELOG:FETCH? commands; nil always answers NONE.
func newElogDevice(t *testing.T, fetch func(cmd string) (string, bool)) *fakeDevice {
	t.Helper()

	items := "NONE"
	tim := "OFF"
	calc := "AVG"

	return newFakeDevice(t, func(cmd string) (string, bool) {
		switch {
		case cmd == "*VER?":
			return `SCPI,"1999.0",RC_SCPI,"1.21",PYTEST,"1.0.0"`, true
		case cmd == ":NUM:NORMAL:ITEMS?":
			return ":NUM:ITEMS NONE", true
		case cmd == ":ELOG:ITEMS?":
			return ":ELOG:ITEMS " + items, true
		case strings.HasPrefix(cmd, ":ELOG:ITEMS "):
			items = strings.TrimPrefix(cmd, ":ELOG:ITEMS ")
			return "", false
		case cmd == ":ELOG:TIM?":
			return ":ELOG:TIM " + tim, true
		case strings.HasPrefix(cmd, ":ELOG:TIM "):
			tim = strings.TrimPrefix(cmd, ":ELOG:TIM ")
			return "", false
		case cmd == ":ELOG:CALC?":
			return ":ELOG:CALC " + calc, true
		case strings.HasPrefix(cmd, ":ELOG:CALC "):
			calc = strings.TrimPrefix(cmd, ":ELOG:CALC ")
			return "", false
		case strings.HasPrefix(cmd, ":ELOG:FETCH?"):
			if fetch != nil {
				return fetch(cmd)
			}
			return ":ELOG:FETCH NONE", true
		default:
			return "", false
		}
	})
}

func connectElogClient(t *testing.T, fetch func(cmd string) (string, bool)) (*Client, *fakeDevice) {
	t.Helper()

	device := newElogDevice(t, fetch)
	client := newTestClient(t, device.port())
	require.NoError(t, client.Connect(context.Background()))

	return client, device
}

func configureElog(t *testing.T, client *Client, mode scpi.TimestampMode, channels []string, calcs ...scpi.Calculation) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, client.Elog.SetChannels(ctx, channels))
	require.NoError(t, client.Elog.SetTimestampMode(ctx, mode))
	require.NoError(t, client.Elog.SetCalculations(ctx, calcs...))
}

func TestElogConfigureRoundTrip(t *testing.T) {
	require := require.New(t)

	client, _ := connectElogClient(t, nil)
	configureElog(t, client, scpi.TimestampRel,
		[]string{"AI 1/1", "AI 1/2"}, scpi.CalcRMS, scpi.CalcMinimum)

	require.Equal([]string{"AI 1/1", "AI 1/2"}, client.Elog.Channels())
	require.Equal(scpi.TimestampRel, client.Elog.TimestampMode())
	require.Equal([]scpi.Calculation{scpi.CalcRMS, scpi.CalcMinimum}, client.Elog.Calculations())

	// 2 channels x 2 calculations + timestamp column
	require.Equal(5, client.Elog.RowWidth())
}

func TestElogFetch_SplitsRows(t *testing.T) {
	require := require.New(t)

	fetch := func(cmd string) (string, bool) {
		return ":ELOG:FETCH 0.01,1,2,3,4,0.02,5,6,7,8", true
	}

	client, _ := connectElogClient(t, fetch)
	configureElog(t, client, scpi.TimestampRel,
		[]string{"AI 1/1", "AI 1/2"}, scpi.CalcRMS, scpi.CalcMinimum)

	rows, err := client.Elog.Fetch(context.Background(), 0)
	require.NoError(err)
	require.Len(rows, 2)
	require.Equal([]string{"0.01", "1", "2", "3", "4"}, rows[0])
	require.Equal([]string{"0.02", "5", "6", "7", "8"}, rows[1])

	rec, err := client.Elog.ConvertRow(rows[1])
	require.NoError(err)
	require.InDelta(0.02, rec.Offset, 1e-12)
	require.Equal([]float64{5, 6, 7, 8}, rec.Values)
}

func TestElogFetch_MaxRecordsArgument(t *testing.T) {
	require := require.New(t)

	fetch := func(cmd string) (string, bool) {
		if cmd != ":ELOG:FETCH? 2" {
			return ":ELOG:FETCH ERROR", true
		}
		return ":ELOG:FETCH 0.01,1", true
	}

	client, _ := connectElogClient(t, fetch)
	configureElog(t, client, scpi.TimestampRel, []string{"AI 1/1"}, scpi.CalcAverage)

	rows, err := client.Elog.Fetch(context.Background(), 2)
	require.NoError(err)
	require.Len(rows, 1)
}

func TestElogFetch_NoData(t *testing.T) {
	require := require.New(t)

	client, _ := connectElogClient(t, nil)
	configureElog(t, client, scpi.TimestampRel, []string{"AI 1/1"}, scpi.CalcAverage)

	_, err := client.Elog.Fetch(context.Background(), 0)
	require.ErrorIs(err, scpi.ErrNoData)
}

func TestElogFetch_NotConfigured(t *testing.T) {
	require := require.New(t)

	client, device := connectElogClient(t, nil)

	before := len(device.commands())

	_, err := client.Elog.Fetch(context.Background(), 0)
	require.ErrorIs(err, scpi.ErrElogNotConfigured)
	require.Len(device.commands(), before)
}

func TestElogConvertRow(t *testing.T) {
	require := require.New(t)

	s := newElogSession(nil)

	s.timestampMode = scpi.TimestampAbs
	rec, err := s.ConvertRow([]string{"2024-05-06T07:08:09.25", "1.5", "2.5"})
	require.NoError(err)
	require.Equal(time.Date(2024, 5, 6, 7, 8, 9, 250000000, time.Local), rec.Time)
	require.Equal([]float64{1.5, 2.5}, rec.Values)

	// whole seconds come without a fractional part
	rec, err = s.ConvertRow([]string{"2024-05-06T07:08:09", "1.5"})
	require.NoError(err)
	require.Equal(time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local), rec.Time)

	s.timestampMode = scpi.TimestampRel
	rec, err = s.ConvertRow([]string{"12.5", "1", "2"})
	require.NoError(err)
	require.InDelta(12.5, rec.Offset, 1e-12)
	require.Equal([]float64{1, 2}, rec.Values)

	s.timestampMode = scpi.TimestampOff
	rec, err = s.ConvertRow([]string{"1", "2"})
	require.NoError(err)
	require.True(rec.Time.IsZero())
	require.Zero(rec.Offset)
	require.Equal([]float64{1, 2}, rec.Values)
}

func TestElogConvertRow_Malformed(t *testing.T) {
	require := require.New(t)

	s := newElogSession(nil)

	_, err := s.ConvertRow(nil)
	require.ErrorIs(err, scpi.ErrDecode)

	_, err = s.ConvertRow([]string{"abc"})
	require.ErrorIs(err, scpi.ErrDecode)

	s.timestampMode = scpi.TimestampAbs
	_, err = s.ConvertRow([]string{"yesterday", "1"})
	require.ErrorIs(err, scpi.ErrDecode)
}

func TestElogFetchAccumulated_StopsAtCallInstant(t *testing.T) {
	require := require.New(t)

	calls := 0
	fetch := func(cmd string) (string, bool) {
		calls++
		if calls == 1 {
			return ":ELOG:FETCH NONE", true
		}
		// second row's offset is far past the call instant
		return ":ELOG:FETCH 0.0001,1.5,3600,2.5", true
	}

	client, _ := connectElogClient(t, fetch)
	configureElog(t, client, scpi.TimestampElog, []string{"AI 1/1"}, scpi.CalcAverage)

	ctx := context.Background()
	require.NoError(client.Elog.Start(ctx))

	records, err := client.Elog.FetchAccumulated(ctx, 2*time.Second)
	require.NoError(err)
	require.Len(records, 2)
	require.InDelta(0.0001, records[0].Offset, 1e-9)
	require.Equal([]float64{1.5}, records[0].Values)
	require.InDelta(3600.0, records[1].Offset, 1e-9)
	require.Equal([]float64{2.5}, records[1].Values)
}

func TestElogFetchAccumulated_TimeoutReturnsPartial(t *testing.T) {
	require := require.New(t)

	calls := 0
	fetch := func(cmd string) (string, bool) {
		calls++
		if calls == 1 {
			// offset too small to ever reach the call instant
			return ":ELOG:FETCH 0.0001,1.5", true
		}
		return ":ELOG:FETCH NONE", true
	}

	client, _ := connectElogClient(t, fetch)
	configureElog(t, client, scpi.TimestampElog, []string{"AI 1/1"}, scpi.CalcAverage)

	ctx := context.Background()
	require.NoError(client.Elog.Start(ctx))

	records, err := client.Elog.FetchAccumulated(ctx, 150*time.Millisecond)
	require.ErrorIs(err, scpi.ErrAccumulateTimeout)
	require.Len(records, 1)
	require.Equal([]float64{1.5}, records[0].Values)
}

func TestElogFetchAccumulated_RequiresAbsOrElogMode(t *testing.T) {
	require := require.New(t)

	client, device := connectElogClient(t, nil)
	configureElog(t, client, scpi.TimestampRel, []string{"AI 1/1"}, scpi.CalcAverage)

	before := len(device.commands())

	_, err := client.Elog.FetchAccumulated(context.Background(), time.Second)
	require.ErrorIs(err, scpi.ErrInvalidArgument)
	require.Len(device.commands(), before)
}

func TestElogFetchAccumulated_ContextCancel(t *testing.T) {
	require := require.New(t)

	client, _ := connectElogClient(t, nil)
	configureElog(t, client, scpi.TimestampElog, []string{"AI 1/1"}, scpi.CalcAverage)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(30*time.Millisecond, cancel)
	defer timer.Stop()

	_, err := client.Elog.FetchAccumulated(ctx, 10*time.Second)
	require.ErrorIs(err, context.Canceled)
}

func TestElogSetChannels_VersionGate(t *testing.T) {
	require := require.New(t)

	client, device := connectTestClient(t, handshakeReplies("1.6"))

	before := len(device.commands())

	err := client.Elog.SetChannels(context.Background(), []string{"AI 1/1"})
	require.ErrorIs(err, scpi.ErrVersionNotSupported)
	require.Len(device.commands(), before)
}

func TestElogSetCalculations_Validation(t *testing.T) {
	require := require.New(t)

	client, device := connectElogClient(t, nil)

	before := len(device.commands())
	ctx := context.Background()

	err := client.Elog.SetCalculations(ctx)
	require.ErrorIs(err, scpi.ErrInvalidArgument)

	err = client.Elog.SetCalculations(ctx, scpi.Calculation("MEDIAN"))
	require.ErrorIs(err, scpi.ErrInvalidArgument)

	err = client.Elog.SetCalculations(ctx, scpi.CalcAverage, scpi.CalcAverage)
	require.ErrorIs(err, scpi.ErrInvalidArgument)

	require.Len(device.commands(), before)
}

func TestElogRun_StopsOnError(t *testing.T) {
	require := require.New(t)

	client, device := connectElogClient(t, nil)
	configureElog(t, client, scpi.TimestampElog, []string{"AI 1/1"}, scpi.CalcAverage)

	errBoom := errors.New("boom")
	err := client.Elog.Run(context.Background(), func(ctx context.Context) error {
		require.True(client.Elog.Running())
		return errBoom
	})
	require.ErrorIs(err, errBoom)
	require.False(client.Elog.Running())

	commands := device.commands()
	require.Contains(commands, ":ELOG:START")
	require.Contains(commands, ":ELOG:STOP")
}
