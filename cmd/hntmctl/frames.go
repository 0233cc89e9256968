package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/hntm-service/internal/hntm"
	"github.com/book-expert/hntm-service/internal/modelpath"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagOrder      = "order"
	flagOffsets    = "offsets"
	flagEnvelope   = "envelope"
	flagSampleRate = "sample-rate"
)

const (
	defaultLPCOrder   = 16
	defaultSampleRate = 16000
)

// ErrNotWaveform is returned when convert-noise is given a non-waveform sequence.
var ErrNotWaveform = errors.New("sequence does not use the waveform noise model")

type framesReport struct {
	Path       string          `yaml:"path"`
	FileSize   string          `yaml:"file_size"`
	Duration   string          `yaml:"duration"`
	Summary    hntm.Summary    `yaml:"summary"`
	Offsets    []int64         `yaml:"offsets,flow,omitempty"`
	SampleRate int             `yaml:"sample_rate,omitempty"`
	Frames     []frameEnvelope `yaml:"frames,omitempty"`
}

// frameEnvelope is the noise envelope of one frame.
type frameEnvelope struct {
	Index           int       `yaml:"index"`
	Envelope        []float64 `yaml:"envelope,flow"`
	PseudoHarmonics int       `yaml:"pseudo_harmonics,omitempty"`
}

func newFramesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Inspect and convert HNTM frame sequences",
	}

	cmd.AddCommand(
		newFramesInspectCmd(a),
		newFramesConvertNoiseCmd(a),
		newFramesPushCmd(a),
		newRemoveCmd(a, "Delete a frame sequence from the frames bucket", modelpath.ExtSequence, a.framesBucket),
	)

	return cmd
}

func newFramesInspectCmd(a *app) *cobra.Command {
	var (
		showOffsets bool
		fftSize     int
		sampleRate  int
	)

	cmd := &cobra.Command{
		Use:   "inspect <file.hntm>",
		Short: "Summarize a frame sequence",
		Long: `Summarize a frame sequence. With --envelope, also sample the noise
envelope of every frame at fftSize/2+1 bins from 0 Hz to half the sample
rate, and count the pseudo-harmonics of pseudo-harmonic frames.

Examples:
  hntmctl frames inspect analysis.hntm --offsets
  hntmctl frames inspect analysis.hntm --envelope 64 --sample-rate 16000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed(flagSampleRate) && a.cfg.Analysis.SampleRate > 0 {
				sampleRate = a.cfg.Analysis.SampleRate
			}

			seq, path, err := a.loadSequence(args[0])
			if err != nil {
				return err
			}

			checkErr := a.checkNoiseModel(seq)
			if checkErr != nil {
				a.log.Warn("%v", checkErr)
			}

			summary := seq.Summary()
			report := framesReport{
				Path:     path,
				FileSize: modelpath.FormatFileSize(summary.EncodedBytes),
				Duration: modelpath.FormatDuration(summary.DurationSeconds),
				Summary:  summary,
			}

			if showOffsets {
				report.Offsets = seq.Offsets()
			}

			if fftSize > 0 {
				report.SampleRate = sampleRate

				report.Frames, err = noiseEnvelopes(seq, fftSize, sampleRate)
				if err != nil {
					return err
				}
			}

			return writeYAML(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&showOffsets, flagOffsets, false, "List the byte offset of every frame")
	cmd.Flags().IntVar(&fftSize, flagEnvelope, 0, "Report noise envelopes with this FFT size")
	cmd.Flags().IntVar(&sampleRate, flagSampleRate, defaultSampleRate, "Sample rate of the analysed audio (Hz)")

	return cmd
}

func newFramesConvertNoiseCmd(a *app) *cobra.Command {
	var (
		output string
		order  int
	)

	cmd := &cobra.Command{
		Use:   "convert-noise <in.hntm>",
		Short: "Replace waveform noise parts with LPC noise parts",
		Long: `Fit an all-pole model to the waveform noise of every frame and write a
sequence that uses the LPC noise model. Frames without a noise part stay
without one.

Examples:
  hntmctl frames convert-noise analysis.hntm -o analysis-lpc.hntm --order 16`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed(flagOrder) && a.cfg.Analysis.LPCOrder > 0 {
				order = a.cfg.Analysis.LPCOrder
			}

			seq, _, err := a.loadSequence(args[0])
			if err != nil {
				return err
			}

			converted, err := convertToLPC(seq, order)
			if err != nil {
				return err
			}

			err = modelpath.EnsureDir(filepath.Dir(output))
			if err != nil {
				return err
			}

			err = saveSequence(converted, output)
			if err != nil {
				return err
			}

			a.log.Info("Converted %d frames to LPC order %d: %s", len(converted.Frames), order, output)

			return writeYAML(cmd.OutOrStdout(), framesReport{
				Path:     output,
				FileSize: modelpath.FormatFileSize(converted.EncodedLength()),
				Duration: modelpath.FormatDuration(converted.Summary().DurationSeconds),
				Summary:  converted.Summary(),
			})
		},
	}

	cmd.Flags().StringVarP(&output, flagOutput, "o", "", "Output sequence file")
	cmd.Flags().IntVar(&order, flagOrder, defaultLPCOrder, "LPC order")
	_ = cmd.MarkFlagRequired(flagOutput)

	return cmd
}

// convertToLPC returns a copy of seq with every waveform noise part replaced
// by its LPC fit.
func convertToLPC(seq *hntm.Sequence, order int) (*hntm.Sequence, error) {
	if seq.NoiseModel != hntm.NoiseWaveform {
		return nil, fmt.Errorf("%w: got %s", ErrNotWaveform, seq.NoiseModel)
	}

	converted := seq.Clone()
	converted.NoiseModel = hntm.NoiseLPC

	for i, frame := range converted.Frames {
		waveform, ok := frame.Noise.(*hntm.WaveformNoisePart)
		if !ok || waveform == nil {
			frame.Noise = nil

			continue
		}

		part, err := waveform.ToLPC(order)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		frame.Noise = part
	}

	return converted, nil
}

// noiseEnvelopes samples the noise envelope of every frame.
func noiseEnvelopes(seq *hntm.Sequence, fftSize, sampleRate int) ([]frameEnvelope, error) {
	frames := make([]frameEnvelope, len(seq.Frames))

	for i, frame := range seq.Frames {
		env, err := hntm.NoiseEnvelope(frame.Noise, fftSize, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		harmonics, err := frame.PseudoHarmonics(sampleRate)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		frames[i] = frameEnvelope{Index: i, Envelope: env, PseudoHarmonics: len(harmonics)}
	}

	return frames, nil
}

// checkNoiseModel compares seq with [analysis].noise_model when one is set.
func (a *app) checkNoiseModel(seq *hntm.Sequence) error {
	if a.cfg.Analysis.NoiseModel == "" {
		return nil
	}

	want, err := a.cfg.NoiseModel()
	if err != nil {
		return err
	}

	if seq.NoiseModel != want {
		return fmt.Errorf("%w: sequence uses %s, analysis.noise_model is %s", hntm.ErrNoiseModelMismatch, seq.NoiseModel, want)
	}

	return nil
}

func (a *app) loadSequence(name string) (*hntm.Sequence, string, error) {
	path, err := modelpath.Resolve(name, a.cfg.Paths.ModelsDir)
	if err != nil {
		return nil, "", err
	}

	if !modelpath.IsSequenceFile(path) {
		a.log.Warn("%s does not have the %s extension", path, modelpath.ExtSequence)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open sequence '%s': %w", path, err)
	}
	defer file.Close()

	seq, err := hntm.ReadSequence(bufio.NewReader(file))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read sequence '%s': %w", path, err)
	}

	a.log.Info("Loaded %d %s frames from %s", len(seq.Frames), seq.NoiseModel, path)

	return seq, path, nil
}

func saveSequence(seq *hntm.Sequence, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create sequence '%s': %w", path, err)
	}

	buffered := bufio.NewWriter(file)

	_, writeErr := seq.WriteTo(buffered)
	if writeErr == nil {
		writeErr = buffered.Flush()
	}

	closeErr := file.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to write sequence '%s': %w", path, writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close sequence '%s': %w", path, closeErr)
	}

	return nil
}
