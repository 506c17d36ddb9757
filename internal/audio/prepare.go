package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2/mp3"
)

// PrepareInfo describes the outcome of the preparation pass. It is pure
// derived data served by the status endpoint.
type PrepareInfo struct {
	FilePath       string        `json:"file_path"`
	FileSize       int64         `json:"file_size_bytes"`
	SampleRate     int           `json:"sample_rate"`
	AssetDuration  time.Duration `json:"-"`
	PaddedDuration time.Duration `json:"-"`
	Padding        time.Duration `json:"-"`
	Ready          bool          `json:"ready"`
}

// Preparer decodes the audio asset once at startup, pads it with silence up
// to the next whole padTo boundary, and re-encodes it to a single in-memory
// WAV buffer. It implements Source; Open defers until preparation has
// completed or failed.
//
// Readiness is signalled through a one-shot channel rather than polling, so
// waiting requests can apply a bounded timeout.
type Preparer struct {
	path      string
	chunkSize int
	padTo     time.Duration
	logger    *slog.Logger

	ready chan struct{}

	mu     sync.RWMutex
	err    error
	source *BufferSource
	info   PrepareInfo
}

// NewPreparer creates a preparer for the asset at path. Start must be called
// before the preparer is usable as a Source.
func NewPreparer(path string, chunkSize int, padTo time.Duration, logger *slog.Logger) *Preparer {
	return &Preparer{
		path:      path,
		chunkSize: chunkSize,
		padTo:     padTo,
		logger:    logger,
		ready:     make(chan struct{}),
		info: PrepareInfo{
			FilePath: path,
		},
	}
}

// Start launches the preparation pass on its own goroutine so it never stalls
// process startup.
func (p *Preparer) Start() {
	go p.run()
}

func (p *Preparer) run() {
	start := time.Now()

	err := p.prepare()

	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.ready)

	if err != nil {
		p.logger.Error("Audio preparation failed",
			slog.String("file_path", p.path),
			slog.String("error", err.Error()),
		)
		return
	}

	info := p.Info()
	p.logger.Info("Audio preparation complete",
		slog.String("file_path", p.path),
		slog.Duration("asset_duration", info.AssetDuration),
		slog.Duration("padded_duration", info.PaddedDuration),
		slog.Duration("padding", info.Padding),
		slog.Int("sample_rate", info.SampleRate),
		slog.Int("buffer_bytes", p.source.Size()),
		slog.Duration("elapsed", time.Since(start)),
	)
}

func (p *Preparer) prepare() error {
	stat, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("failed to stat audio asset: %w", err)
	}

	samples, sampleRate, err := p.decode()
	if err != nil {
		return err
	}

	if len(samples) == 0 {
		return fmt.Errorf("audio asset %s decoded to zero samples", p.path)
	}

	assetDuration := samplesDuration(len(samples), sampleRate)

	// Pad with silence up to the next whole boundary. An asset already on a
	// boundary gets no padding.
	paddedDuration := assetDuration
	if rem := assetDuration % p.padTo; rem != 0 {
		paddedDuration = assetDuration - rem + p.padTo
	}
	padding := paddedDuration - assetDuration

	if padSamples := int(paddedDuration/time.Second)*sampleRate - len(samples); padSamples > 0 {
		samples = append(samples, make([]int16, padSamples)...)
	}

	encoded, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return fmt.Errorf("failed to re-encode padded audio: %w", err)
	}

	p.mu.Lock()
	p.source = NewBufferSource(encoded, p.chunkSize, "audio/wav")
	p.info = PrepareInfo{
		FilePath:       p.path,
		FileSize:       stat.Size(),
		SampleRate:     sampleRate,
		AssetDuration:  assetDuration,
		PaddedDuration: paddedDuration,
		Padding:        padding,
		Ready:          true,
	}
	p.mu.Unlock()

	return nil
}

// decode reads the asset and returns mono PCM-16 samples.
func (p *Preparer) decode() ([]int16, int, error) {
	switch strings.ToLower(filepath.Ext(p.path)) {
	case ".wav":
		data, err := os.ReadFile(p.path)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read audio asset: %w", err)
		}
		return DecodeWAV(data)
	case ".mp3":
		return decodeMP3(p.path)
	default:
		return nil, 0, fmt.Errorf("unsupported asset format %q (only .wav and .mp3 can be prepared)", filepath.Ext(p.path))
	}
}

// decodeMP3 decodes an MP3 file to mono PCM-16, downmixing stereo by
// averaging channels.
func decodeMP3(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open audio asset: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to decode MP3 asset: %w", err)
	}
	defer streamer.Close()

	samples := make([]int16, 0, streamer.Len())
	buf := make([][2]float64, 1024)
	for {
		n, ok := streamer.Stream(buf)
		for i := 0; i < n; i++ {
			samples = append(samples, floatToPCM16((buf[i][0]+buf[i][1])/2))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to decode MP3 asset: %w", err)
	}

	return samples, int(format.SampleRate), nil
}

func floatToPCM16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

func samplesDuration(n, sampleRate int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// WaitReady blocks until preparation completes, fails, or ctx expires. A
// preparation failure is returned as-is; a ctx expiry surfaces as ctx.Err().
func (p *Preparer) WaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready returns the one-shot readiness channel, closed when preparation
// finishes regardless of outcome.
func (p *Preparer) Ready() <-chan struct{} {
	return p.ready
}

// Err returns the preparation error, or nil before completion and on success.
func (p *Preparer) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Info returns a snapshot of the preparation outcome.
func (p *Preparer) Info() PrepareInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info
}

// Open waits for preparation to finish and then starts a pass over the
// prepared buffer. The broadcast loop therefore never starts emitting before
// the payload is fully available.
func (p *Preparer) Open() (Reader, error) {
	<-p.ready

	p.mu.RLock()
	err := p.err
	source := p.source
	p.mu.RUnlock()

	if err != nil {
		return nil, fmt.Errorf("audio asset not prepared: %w", err)
	}
	return source.Open()
}

// ContentType reports the MIME type of the prepared buffer.
func (p *Preparer) ContentType() string {
	return "audio/wav"
}
