package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

type portAudioPlayer struct {
	src        Puller
	sampleRate int
	bufferSize int
	log        zerolog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
}

// NewPlayer creates a PortAudio-based playback sink on the default output
// device.
func NewPlayer(src Puller, sampleRate, bufferSize int, log zerolog.Logger) (Sink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioPlayer{
		src:        src,
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		log:        log.With().Str("sink", "portaudio").Logger(),
	}, nil
}

func (p *portAudioPlayer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(0, Channels, float64(p.sampleRate), p.bufferSize, p.callback)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	p.stream = stream

	p.log.Info().
		Int("sample_rate", p.sampleRate).
		Int("buffer_size", p.bufferSize).
		Msg("Playback started")
	return nil
}

// callback runs on the PortAudio thread; it must not block.
func (p *portAudioPlayer) callback(out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	if flags&portaudio.OutputUnderflow != 0 {
		p.src.ReportUnderflow()
	}
	p.src.Pull(out)
}

func (p *portAudioPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	stream := p.stream
	p.stream = nil

	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close audio stream: %w", err)
	}
	p.log.Info().Msg("Playback stopped")
	return nil
}

func (p *portAudioPlayer) Close() error {
	err := p.Stop()
	portaudio.Terminate()
	return err
}

// ListOutputDevices returns the devices PortAudio can play through.
func ListOutputDevices() ([]OutputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]OutputDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultOutputDevice()

	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			result = append(result, OutputDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}
