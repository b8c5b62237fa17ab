package softaudio_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"CollabFM/core/mixer"
	"CollabFM/core/mixer/softaudio"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rate = 48000

func sine(freq, amp float64, seconds float64) []float32 {
	n := int(seconds * rate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

type stepFrames struct {
	mu    sync.Mutex
	next  int
	tasks map[int]func()
}

func (s *stepFrames) Every(_ time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		s.tasks = make(map[int]func())
	}
	s.next++
	id := s.next
	s.tasks[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.tasks, id)
		s.mu.Unlock()
	}
}

func (s *stepFrames) step() {
	s.mu.Lock()
	var fns []func()
	for _, fn := range s.tasks {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type rig struct {
	engine *mixer.Engine
	ac     *softaudio.Context
	sub    *softaudio.BufferTransport
	back   *softaudio.BufferTransport
	frames *stepFrames
}

func newRig(t *testing.T, lib softaudio.Library) *rig {
	t.Helper()
	r := &rig{
		sub:    softaudio.NewBufferTransport(rate, lib.Load),
		back:   softaudio.NewBufferTransport(rate, lib.Load),
		frames: &stepFrames{},
	}
	r.engine = mixer.NewEngine(r.sub, r.back,
		softaudio.Factory(rate, func(c *softaudio.Context) { r.ac = c }),
		mixer.WithClock(clock.NewMock()),
		mixer.WithFrameScheduler(r.frames),
	)
	t.Cleanup(r.engine.Close)
	return r
}

type levels struct {
	mu                 sync.Mutex
	master, sub, apart mixer.Level
}

func (r *rig) watch() (*levels, func()) {
	l := &levels{}
	u1 := r.engine.OnMasterLevel(func(v mixer.Level) { l.mu.Lock(); l.master = v; l.mu.Unlock() })
	u2 := r.engine.OnPlayer1Level(func(v mixer.Level) { l.mu.Lock(); l.sub = v; l.mu.Unlock() })
	u3 := r.engine.OnPlayer2Level(func(v mixer.Level) { l.mu.Lock(); l.apart = v; l.mu.Unlock() })
	return l, func() { u1(); u2(); u3() }
}

func TestEngineMetersSubmissionAndBacking(t *testing.T) {
	lib := softaudio.Library{
		"sub.wav":  sine(440, 0.5, 2),
		"back.wav": sine(1000, 0.25, 2),
	}
	r := newRig(t, lib)
	l, stop := r.watch()
	defer stop()

	require.NoError(t, r.engine.PlaySubmission(context.Background(), "sub.wav", "back.wav", 0))
	require.NotNil(t, r.ac)
	assert.Equal(t, mixer.ContextRunning, r.ac.State())

	r.ac.Render(rate / 4)
	r.frames.step()

	assert.InDelta(t, 0.5, l.sub.Peak, 0.02)
	assert.InDelta(t, 0.5/math.Sqrt2, l.sub.RMS, 0.02)
	assert.InDelta(t, 0.25, l.apart.Peak, 0.01)
	assert.Greater(t, l.master.Peak, 0.4)
	assert.InDelta(t, 0.25, r.sub.CurrentTime(), 0.01)
	assert.InDelta(t, r.sub.CurrentTime(), r.back.CurrentTime(), 1e-9)
}

func TestMasterMeterIgnoresLowFrequencies(t *testing.T) {
	lib := softaudio.Library{
		"rumble.wav": sine(40, 0.5, 2),
		"silence":    make([]float32, 2*rate),
	}
	r := newRig(t, lib)
	l, stop := r.watch()
	defer stop()

	require.NoError(t, r.engine.PlaySubmission(context.Background(), "rumble.wav", "silence", 0))
	r.ac.Render(rate / 2)
	r.frames.step()

	assert.Greater(t, l.sub.Peak, 0.4)
	assert.Less(t, l.master.Peak, 0.1)
	assert.Equal(t, 0.0, l.apart.Peak)
}

func TestSubmissionMuteSilencesChannel(t *testing.T) {
	lib := softaudio.Library{
		"sub.wav":  sine(440, 0.5, 1),
		"back.wav": sine(880, 0.3, 1),
	}
	r := newRig(t, lib)
	l, stop := r.watch()
	defer stop()

	r.engine.SetSubmissionMuted(true)
	require.NoError(t, r.engine.PlaySubmission(context.Background(), "sub.wav", "back.wav", 0))
	r.ac.Render(rate / 10)
	r.frames.step()

	assert.Equal(t, 0.0, l.sub.Peak)
	assert.InDelta(t, 0.3, l.apart.Peak, 0.01)
}

func TestPeakingBoostRaisesLevel(t *testing.T) {
	lib := softaudio.Library{
		"sub.wav": sine(2500, 0.2, 1),
		"back":    make([]float32, rate),
	}
	r := newRig(t, lib)
	l, stop := r.watch()
	defer stop()

	r.engine.SetEq(mixer.EqPatch{Param2: &mixer.ParametricBand{Frequency: 2500, Q: 1, Gain: 6}})
	require.NoError(t, r.engine.PlaySubmission(context.Background(), "sub.wav", "back", 0))
	r.ac.Render(rate / 5)
	r.frames.step()

	// +6dB 约为两倍
	assert.InDelta(t, 0.4, l.sub.Peak, 0.03)

	r.engine.SetEqEnabled(false)
	r.ac.Render(rate / 10)
	r.frames.step()
	assert.InDelta(t, 0.2, l.sub.Peak, 0.01)
}

func TestDeniedBackingRecovers(t *testing.T) {
	lib := softaudio.Library{
		"sub.wav":  sine(440, 0.5, 1),
		"back.wav": sine(440, 0.5, 1),
	}
	r := newRig(t, lib)
	r.back.DenyPlays = 1

	require.NoError(t, r.engine.PlaySubmission(context.Background(), "sub.wav", "back.wav", 0))
	assert.False(t, r.back.Paused())
	assert.True(t, r.engine.GetState().Player2.IsPlaying)
}

func TestSuspendedContextRendersSilence(t *testing.T) {
	ac := softaudio.NewContext(rate)
	out := ac.Render(256)
	assert.Len(t, out, 256)
	for _, v := range out {
		assert.Zero(t, v)
	}
}

func TestTransportEndsAtBufferEnd(t *testing.T) {
	lib := softaudio.Library{"short": sine(440, 0.5, 0.01)}
	tr := softaudio.NewBufferTransport(rate, lib.Load)
	ac := softaudio.NewContext(rate)
	src, err := ac.CreateMediaElementSource(tr)
	require.NoError(t, err)
	src.Connect(ac.Destination())
	require.NoError(t, ac.Resume(context.Background()))

	tr.SetSource("short")
	tr.Load()
	require.NoError(t, tr.WaitCanPlay(context.Background()))
	require.NoError(t, tr.Play(context.Background()))

	ac.Render(rate / 10)
	assert.True(t, tr.Ended())
	assert.True(t, tr.Paused())

	_, err = ac.CreateMediaElementSource(tr)
	assert.Error(t, err)
}

func TestUnknownSourceFailsWait(t *testing.T) {
	tr := softaudio.NewBufferTransport(rate, softaudio.Library{}.Load)
	tr.SetSource("missing")
	tr.Load()
	assert.Error(t, tr.WaitCanPlay(context.Background()))
	assert.Error(t, tr.Play(context.Background()))
}
