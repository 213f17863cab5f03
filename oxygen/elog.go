package oxygen

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-oxygen/internal/pool"
	"github.com/arloliu/go-oxygen/internal/util"
	"github.com/arloliu/go-oxygen/scpi"
)

// elogTimeLayout parses the absolute timestamps of ELOG rows. The device
// omits the fractional part for whole seconds; the layout accepts both.
const elogTimeLayout = "2006-01-02T15:04:05.999999"

// Record is one logged ELOG sample: an optional leading timestamp followed
// by one value per (channel, calculation) pair in channel-major,
// calculation-minor order matching the configured calculation list.
type Record struct {
	// Time is the absolute sample instant. Set in ABS timestamp mode only.
	Time time.Time
	// Offset is the sample offset in seconds relative to acquisition start
	// (REL mode) or external-logging start (ELOG mode).
	Offset float64
	// Values holds one value per (channel, calculation) pair.
	Values []float64
}

// ElogSession drives the external-logging subsystem of the device: buffered
// periodic sampling of statistical aggregates per channel.
//
// Configuration calls are intended for the stopped state; fetching is
// meaningful only while logging runs. The device discards buffered rows
// older than roughly 20 seconds once fetched or expired, so callers must
// poll faster than the backlog grows to avoid gaps. The session does not
// enforce either constraint.
type ElogSession struct {
	client *Client // non-owning

	channels      []string
	calculations  []scpi.Calculation
	timestampMode scpi.TimestampMode

	running  bool
	startRef time.Time // local wall-clock instant of the last Start
}

func newElogSession(c *Client) *ElogSession {
	return &ElogSession{
		client:        c,
		timestampMode: scpi.TimestampOff,
	}
}

// syncState re-reads the ELOG configuration from the device. Runs during
// the connect handshake, after the protocol version is known, to mirror
// device-side configuration that may predate this client's attach.
func (s *ElogSession) syncState(ctx context.Context) error {
	if err := s.syncChannels(ctx); err != nil {
		return err
	}
	if err := s.syncTimestampMode(ctx); err != nil {
		return err
	}

	return s.syncCalculations(ctx)
}

func (s *ElogSession) syncChannels(ctx context.Context) error {
	line, err := s.client.askLine(ctx, ":ELOG:ITEMS?")
	if err != nil {
		return err
	}

	names := util.SplitQuoted(util.StripHeader(line))
	if len(names) == 0 {
		s.client.logger.Warn("no elog channels set")
	}
	s.channels = names

	return nil
}

func (s *ElogSession) syncTimestampMode(ctx context.Context) error {
	line, err := s.client.askLine(ctx, ":ELOG:TIM?")
	if err != nil {
		return err
	}

	mode, err := scpi.ParseTimestampMode(util.StripHeader(line))
	if err != nil {
		return err
	}
	s.timestampMode = mode

	return nil
}

func (s *ElogSession) syncCalculations(ctx context.Context) error {
	line, err := s.client.askLine(ctx, ":ELOG:CALC?")
	if err != nil {
		return err
	}

	tokens := strings.Split(util.StripHeader(line), ",")
	calcs := make([]scpi.Calculation, 0, len(tokens))
	for _, token := range tokens {
		calc, err := scpi.ParseCalculation(strings.TrimSpace(token))
		if err != nil {
			return err
		}
		calcs = append(calcs, calc)
	}
	s.calculations = calcs

	return nil
}

// SetChannels selects the channels logged by the ELOG subsystem and
// confirms the selection by re-reading it; the round-trip must come back
// non-empty.
//
// Available since protocol version 1.7.
func (s *ElogSession) SetChannels(ctx context.Context, channelNames []string) error {
	if err := s.client.requireVersion(scpi.VersionItemLists, ":ELOG:ITEMS"); err != nil {
		return err
	}

	if err := s.client.send(ctx, ":ELOG:ITEMS "+util.QuoteJoin(channelNames)); err != nil {
		return err
	}

	if err := s.syncChannels(ctx); err != nil {
		return err
	}
	if len(s.channels) == 0 {
		return fmt.Errorf("%w: device confirmed no elog channels", scpi.ErrNoData)
	}

	return nil
}

// Channels returns the last confirmed ELOG channel selection.
func (s *ElogSession) Channels() []string {
	return append([]string(nil), s.channels...)
}

// SetCalculations selects the ordered statistical calculations applied to
// every logged channel and confirms them by read-back. At least one
// calculation is required and duplicates are invalid.
func (s *ElogSession) SetCalculations(ctx context.Context, calculations ...scpi.Calculation) error {
	if len(calculations) == 0 {
		return fmt.Errorf("%w: at least one elog calculation required", scpi.ErrInvalidArgument)
	}

	seen := make(map[scpi.Calculation]bool, len(calculations))
	tokens := make([]string, 0, len(calculations))
	for _, calc := range calculations {
		if !calc.Valid() {
			return fmt.Errorf("%w: unknown elog calculation %q", scpi.ErrInvalidArgument, string(calc))
		}
		if seen[calc] {
			return fmt.Errorf("%w: duplicate elog calculation %q", scpi.ErrInvalidArgument, string(calc))
		}
		seen[calc] = true
		tokens = append(tokens, string(calc))
	}

	if err := s.client.send(ctx, ":ELOG:CALC "+strings.Join(tokens, ", ")); err != nil {
		return err
	}

	if err := s.syncCalculations(ctx); err != nil {
		return err
	}
	if len(s.calculations) != len(calculations) {
		return fmt.Errorf("device confirmed calculations %v, requested %v", s.calculations, calculations)
	}
	for i, calc := range calculations {
		if s.calculations[i] != calc {
			return fmt.Errorf("device confirmed calculations %v, requested %v", s.calculations, calculations)
		}
	}

	return nil
}

// Calculations returns the last confirmed calculation list.
func (s *ElogSession) Calculations() []scpi.Calculation {
	return append([]scpi.Calculation(nil), s.calculations...)
}

// SetTimestampMode selects the leading timestamp column of logged rows and
// confirms the mode by read-back.
func (s *ElogSession) SetTimestampMode(ctx context.Context, mode scpi.TimestampMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown elog timestamp mode %q", scpi.ErrInvalidArgument, string(mode))
	}

	if err := s.client.send(ctx, ":ELOG:TIM "+string(mode)); err != nil {
		return err
	}

	if err := s.syncTimestampMode(ctx); err != nil {
		return err
	}
	if s.timestampMode != mode {
		return fmt.Errorf("device confirmed timestamp mode %q, requested %q", string(s.timestampMode), string(mode))
	}

	return nil
}

// TimestampMode returns the last confirmed timestamp mode.
func (s *ElogSession) TimestampMode() scpi.TimestampMode {
	return s.timestampMode
}

// SetPeriod sets the sampling period in seconds.
func (s *ElogSession) SetPeriod(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: elog period must be positive", scpi.ErrInvalidArgument)
	}

	return s.client.send(ctx, fmt.Sprintf(":ELOG:PERIOD %f", seconds))
}

// RowWidth returns the number of tokens per logged row: one per
// (channel, calculation) pair, plus the timestamp column unless the
// timestamp mode is OFF.
func (s *ElogSession) RowWidth() int {
	width := len(s.channels) * len(s.calculations)
	if width == 0 {
		return 0
	}
	if s.timestampMode != scpi.TimestampOff {
		width++
	}

	return width
}

// Start starts external logging. The local wall-clock instant is recorded
// first; FetchAccumulated needs it for ELOG-relative deadline arithmetic.
func (s *ElogSession) Start(ctx context.Context) error {
	s.startRef = time.Now()

	if err := s.client.send(ctx, ":ELOG:START"); err != nil {
		return err
	}
	s.running = true

	return nil
}

// Stop stops external logging. The stop command is issued unconditionally.
func (s *ElogSession) Stop(ctx context.Context) error {
	err := s.client.send(ctx, ":ELOG:STOP")
	s.running = false

	return err
}

// Running reports whether Start has been called without a matching Stop.
func (s *ElogSession) Running() bool {
	return s.running
}

// Run starts external logging, invokes fn, and stops logging on every exit
// path, including an error or panic inside fn. The first error wins.
func (s *ElogSession) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err = s.Start(ctx); err != nil {
		return err
	}

	defer func() {
		stopErr := s.Stop(ctx)
		if err == nil {
			err = stopErr
		}
	}()

	return fn(ctx)
}

// Fetch fetches up to maxRecords buffered rows, or all available rows when
// maxRecords is 0. Rows come back as raw string tokens split into rows of
// RowWidth; use ConvertRow for typed values.
//
// A device answer carrying a NONE or ERROR marker yields scpi.ErrNoData:
// an empty buffer is a normal polling outcome, not a transport failure.
func (s *ElogSession) Fetch(ctx context.Context, maxRecords int) ([][]string, error) {
	width := s.RowWidth()
	if width == 0 {
		return nil, scpi.ErrElogNotConfigured
	}

	cmd := ":ELOG:FETCH?"
	if maxRecords > 0 {
		cmd = fmt.Sprintf(":ELOG:FETCH? %d", maxRecords)
	}

	line, err := s.client.askLine(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if strings.Contains(line, "NONE") || strings.Contains(line, "ERROR") {
		return nil, scpi.ErrNoData
	}

	tokens := strings.Split(util.StripHeader(line), ",")
	numRows := len(tokens) / width
	rows := make([][]string, 0, numRows)
	for i := 0; i < numRows; i++ {
		rows = append(rows, tokens[i*width:(i+1)*width])
	}

	return rows, nil
}

// ConvertRow converts one fetched raw row per the session's current
// timestamp mode: in ABS mode the first token is an absolute timestamp and
// the rest are floats; in REL and ELOG modes the whole row is floats with
// the first being the offset; with timestamps off the whole row is values.
func (s *ElogSession) ConvertRow(row []string) (Record, error) {
	if len(row) == 0 {
		return Record{}, fmt.Errorf("%w: empty elog row", scpi.ErrDecode)
	}

	var rec Record

	values := row
	switch s.timestampMode {
	case scpi.TimestampAbs:
		t, err := parseElogTime(row[0])
		if err != nil {
			return Record{}, err
		}
		rec.Time = t
		values = row[1:]

	case scpi.TimestampRel, scpi.TimestampElog:
		offset, err := parseElogFloat(row[0])
		if err != nil {
			return Record{}, err
		}
		rec.Offset = offset
		values = row[1:]

	case scpi.TimestampOff:
	}

	rec.Values = make([]float64, 0, len(values))
	for _, token := range values {
		f, err := parseElogFloat(token)
		if err != nil {
			return Record{}, err
		}
		rec.Values = append(rec.Values, f)
	}

	return rec, nil
}

func parseElogFloat(token string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed elog value %q", scpi.ErrDecode, token)
	}

	return f, nil
}

func parseElogTime(token string) (time.Time, error) {
	t, err := time.ParseInLocation(elogTimeLayout, strings.ReplaceAll(token, `"`, ""), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed elog timestamp %q", scpi.ErrDecode, token)
	}

	return t, nil
}

// FetchAccumulated blocks and keeps fetching until a fetched row's
// timestamp reaches the instant this call was made, then returns every
// accumulated row, converted. The timestamp mode must be ABS or ELOG:
//
//   - ELOG: a row is reached when the Start reference plus the row's float
//     offset is at or past the call instant.
//   - ABS: a row is reached when its decoded absolute timestamp is at or
//     past the call instant.
//
// Empty fetches idle for the configured poll interval and retry. When
// timeout elapses before the stop condition, the rows accumulated so far
// are returned together with scpi.ErrAccumulateTimeout. Cancelling ctx
// aborts the wait early with ctx's error.
func (s *ElogSession) FetchAccumulated(ctx context.Context, timeout time.Duration) ([]Record, error) {
	if s.timestampMode != scpi.TimestampAbs && s.timestampMode != scpi.TimestampElog {
		return nil, fmt.Errorf("%w: accumulated fetch requires ABS or ELOG timestamp mode, have %q",
			scpi.ErrInvalidArgument, string(s.timestampMode))
	}

	callRef := time.Now()
	deadline := callRef.Add(timeout)

	var raw [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			records, err := s.convertRows(raw)
			if err != nil {
				return nil, err
			}

			return records, scpi.ErrAccumulateTimeout
		}

		rows, err := s.Fetch(ctx, 0)
		if errors.Is(err, scpi.ErrNoData) {
			if err := pool.Sleep(ctx, s.client.cfg.elogPollInterval); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		raw = append(raw, rows...)
		if len(raw) == 0 {
			continue
		}

		reached, err := s.reachedCallInstant(raw[len(raw)-1][0], callRef)
		if err != nil {
			return nil, err
		}
		if reached {
			return s.convertRows(raw)
		}
	}
}

// reachedCallInstant checks the accumulation stop condition against the
// first token of the most recent row.
func (s *ElogSession) reachedCallInstant(timeToken string, callRef time.Time) (bool, error) {
	if s.timestampMode == scpi.TimestampElog {
		offset, err := parseElogFloat(timeToken)
		if err != nil {
			return false, err
		}

		return !s.startRef.Add(time.Duration(offset * float64(time.Second))).Before(callRef), nil
	}

	t, err := parseElogTime(timeToken)
	if err != nil {
		return false, err
	}

	return !t.Before(callRef), nil
}

func (s *ElogSession) convertRows(raw [][]string) ([]Record, error) {
	records := make([]Record, 0, len(raw))
	for _, row := range raw {
		rec, err := s.ConvertRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}
