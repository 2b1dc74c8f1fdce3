package calibration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powercal/powercal/pkg/events"
	"github.com/powercal/powercal/pkg/fc"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/fcsim"
	"github.com/powercal/powercal/pkg/transport"
	"github.com/powercal/powercal/pkg/types"
)

type scriptedPrompter struct {
	answers   []bool
	reference float64
	asked     []string
}

func (p *scriptedPrompter) AskYesNo(prompt string, def bool) (bool, error) {
	p.asked = append(p.asked, prompt)
	if len(p.answers) == 0 {
		return def, nil
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *scriptedPrompter) AskFloat(prompt string) (float64, error) {
	p.asked = append(p.asked, prompt)
	return p.reference, nil
}

type liveCounter struct{ n int }

func (l *liveCounter) ReportLiveSample(types.Sample) { l.n++ }

func openBoard(t *testing.T, board *fcsim.Board) *fc.Handle {
	t.Helper()
	h, err := fc.Open(transport.New(board.Port(), 100*time.Millisecond), fc.DialectAuto, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func newCalibrator(h *fc.Handle, kind types.SensorKind, p Prompter) *Calibrator {
	return &Calibrator{
		Device:   h,
		Kind:     kind,
		Duration: 100 * time.Millisecond,
		Interval: 10 * time.Millisecond,
		Options:  DefaultOptions(),
		Prompter: p,
	}
}

func TestRunVoltageINAV(t *testing.T) {
	board := fcsim.New(fcsim.INAV)
	board.TrueVoltage = 12.0
	board.VbatScale = 1027
	h := openBoard(t, board)

	hub := events.NewEventHub()
	sub := hub.Subscribe()
	live := &liveCounter{}

	c := newCalibrator(h, types.Voltage, &scriptedPrompter{reference: 12.0})
	c.Hub = hub
	c.Reporter = live

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseAccepted, c.Phase())
	assert.Equal(t, 10, res.Count)
	assert.InDelta(t, 11.20, res.Mean, 0.01)
	assert.Equal(t, 1100, board.VbatScale)
	assert.Equal(t, 10, live.n)
	assert.True(t, h.NeedsReboot())

	var phases []string
	for len(sub) > 0 {
		ev, err := events.DecodeAs[events.CalibrationPhaseEvent](<-sub)
		require.NoError(t, err)
		phases = append(phases, ev.To)
	}
	assert.Equal(t, []string{"SensorChecked", "Sampled", "Validated", "Accepted"}, phases)
}

func TestRunCurrentBetaflight(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.TrueCurrent = 10
	board.CurrentScale = 440
	h := openBoard(t, board)

	c := newCalibrator(h, types.Current, &scriptedPrompter{})
	c.Reference = 10

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 9.09, res.Mean, 0.001)
	assert.Equal(t, 400, board.CurrentScale)
}

func TestRunEnablesDisabledSensor(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.VoltageEnabled = false
	h := openBoard(t, board)

	p := &scriptedPrompter{answers: []bool{true, true}, reference: 12.0}
	c := newCalibrator(h, types.Voltage, p)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, board.VoltageEnabled)
	assert.Len(t, p.asked, 3)
}

func TestRunSkipsWhenNotEnabled(t *testing.T) {
	board := fcsim.New(fcsim.INAV)
	board.CurrentEnabled = false
	h := openBoard(t, board)

	c := newCalibrator(h, types.Current, &scriptedPrompter{answers: []bool{false}})
	res, err := c.Run(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, PhaseSkipped, c.Phase())
	assert.False(t, h.NeedsReboot())
}

func TestRunMissingSensor(t *testing.T) {
	board := fcsim.New(fcsim.Betaflight)
	board.CurrentPresent = false
	h := openBoard(t, board)

	c := newCalibrator(h, types.Current, &scriptedPrompter{})
	_, err := c.Run(context.Background())
	assert.Equal(t, fcerr.SensorMissing, fcerr.Of(err))
	assert.Equal(t, PhaseRejected, c.Phase())
}

func TestRunRejectsBadReference(t *testing.T) {
	board := fcsim.New(fcsim.INAV)
	h := openBoard(t, board)

	c := newCalibrator(h, types.Voltage, &scriptedPrompter{reference: 0})
	c.Reference = -1
	_, err := c.Run(context.Background())
	assert.Equal(t, fcerr.InvalidResults, fcerr.Of(err))
	assert.Equal(t, PhaseRejected, c.Phase())
	assert.Equal(t, fcsim.INAVVbatScale, board.VbatScale)
	assert.False(t, h.NeedsReboot())
}

func TestRunCancelled(t *testing.T) {
	board := fcsim.New(fcsim.INAV)
	h := openBoard(t, board)

	ctx, cancel := context.WithCancel(context.Background())
	c := newCalibrator(h, types.Voltage, &scriptedPrompter{reference: 12})
	c.Duration = 10 * time.Second
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := c.Run(ctx)
	assert.Equal(t, fcerr.Cancelled, fcerr.Of(err))
	assert.Equal(t, PhaseRejected, c.Phase())
	assert.Equal(t, fcsim.INAVVbatScale, board.VbatScale)
}

// interruptingPrompter answers normally but cancels the run while the
// reference is being entered.
type interruptingPrompter struct {
	scriptedPrompter
	cancel context.CancelFunc
}

func (p *interruptingPrompter) AskFloat(prompt string) (float64, error) {
	p.cancel()
	return p.scriptedPrompter.AskFloat(prompt)
}

func TestRunCancelledAtReferencePrompt(t *testing.T) {
	board := fcsim.New(fcsim.INAV)
	h := openBoard(t, board)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &interruptingPrompter{scriptedPrompter: scriptedPrompter{reference: 13}, cancel: cancel}

	res, err := newCalibrator(h, types.Voltage, p).Run(ctx)
	assert.Nil(t, res)
	assert.Equal(t, fcerr.Cancelled, fcerr.Of(err))
	assert.Equal(t, fcsim.INAVVbatScale, board.VbatScale)
	assert.False(t, h.NeedsReboot())
}
