package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/book-expert/hntm-service/internal/gmm"
	"github.com/book-expert/hntm-service/internal/modelpath"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagInput      = "input"
	flagOutput     = "output"
	flagComponents = "components"
	flagDiagonal   = "diagonal"
	flagIterations = "iterations"
	flagFloor      = "variance-floor"
	flagInfo       = "info"
)

const defaultComponents = 8

type trainFlags struct {
	input      string
	output     string
	components int
	diagonal   bool
	iterations int
	floor      float64
	info       string
}

// modelReport is the YAML rendering of a mixture.
type modelReport struct {
	Path             string    `yaml:"path,omitempty"`
	FileSize         string    `yaml:"file_size,omitempty"`
	Info             string    `yaml:"info"`
	FeatureDimension int       `yaml:"feature_dimension"`
	Components       int       `yaml:"components"`
	Diagonal         bool      `yaml:"diagonal"`
	Weights          []float64 `yaml:"weights,flow"`
}

type trainReport struct {
	Model                modelReport `yaml:"model"`
	Vectors              int         `yaml:"vectors"`
	Iterations           int         `yaml:"iterations"`
	Converged            bool        `yaml:"converged"`
	AverageLogLikelihood float64     `yaml:"average_log_likelihood"`
}

type vectorScore struct {
	Index          int       `yaml:"index"`
	LogDensity     float64   `yaml:"log_density"`
	BestComponent  int       `yaml:"best_component"`
	Posteriors     []float64 `yaml:"posteriors,flow,omitempty"`
	PosteriorError string    `yaml:"posterior_error,omitempty"`
}

type scoreReport struct {
	Model             string        `yaml:"model"`
	AverageLogDensity float64       `yaml:"average_log_density"`
	Scores            []vectorScore `yaml:"scores"`
}

func newGMMCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gmm",
		Short: "Train, inspect and score Gaussian mixture models",
	}

	cmd.AddCommand(
		newGMMTrainCmd(a),
		newGMMInfoCmd(a),
		newGMMScoreCmd(a),
		newGMMPushCmd(a),
		newRemoveCmd(a, "Delete a mixture model from the model bucket", modelpath.ExtModel, a.modelBucket),
	)

	return cmd
}

func newGMMTrainCmd(a *app) *cobra.Command {
	flags := &trainFlags{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a mixture from a text file of feature vectors",
		Long: `Train a Gaussian mixture with K-means initialisation followed by EM.

The input holds one vector per line; values may be separated by spaces,
tabs, commas or semicolons. Lines starting with '#' are ignored.

Examples:
  hntmctl gmm train -i mfcc.txt -o speaker.gmm -k 16 --diagonal
  hntmctl --config project.toml gmm train -i mfcc.txt -o speaker.gmm`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.applyTrainDefaults(cmd, flags)

			return a.runTrain(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.input, flagInput, "i", "", "Text file of feature vectors")
	cmd.Flags().StringVarP(&flags.output, flagOutput, "o", "", "Output model file (.gmm)")
	cmd.Flags().IntVarP(&flags.components, flagComponents, "k", defaultComponents, "Number of mixture components")
	cmd.Flags().BoolVar(&flags.diagonal, flagDiagonal, false, "Use diagonal covariances")
	cmd.Flags().IntVar(&flags.iterations, flagIterations, gmm.DefaultEMIterations, "Maximum EM iterations")
	cmd.Flags().Float64Var(&flags.floor, flagFloor, gmm.DefaultVarianceFloor, "Variance floor")
	cmd.Flags().StringVar(&flags.info, flagInfo, "", "Free-form description stored in the model")

	_ = cmd.MarkFlagRequired(flagInput)
	_ = cmd.MarkFlagRequired(flagOutput)

	return cmd
}

// applyTrainDefaults fills flags the user did not set from the [gmm] section.
func (a *app) applyTrainDefaults(cmd *cobra.Command, flags *trainFlags) {
	section := a.cfg.GMM

	if !cmd.Flags().Changed(flagComponents) && section.Components > 0 {
		flags.components = section.Components
	}

	if !cmd.Flags().Changed(flagDiagonal) && a.configPath != "" {
		flags.diagonal = section.Diagonal
	}

	if !cmd.Flags().Changed(flagIterations) && section.MaxIterations > 0 {
		flags.iterations = section.MaxIterations
	}

	if !cmd.Flags().Changed(flagFloor) && section.VarianceFloor > 0 {
		flags.floor = section.VarianceFloor
	}
}

func (a *app) runTrain(cmd *cobra.Command, flags *trainFlags) error {
	vectors, err := readVectorFile(flags.input, a.log)
	if err != nil {
		return err
	}

	a.log.Info("Training %d-component mixture on %d vectors of dimension %d", flags.components, len(vectors), len(vectors[0]))

	result, err := gmm.Train(vectors, gmm.TrainerConfig{
		Components:    flags.components,
		Diagonal:      flags.diagonal,
		MaxIterations: flags.iterations,
		VarianceFloor: flags.floor,
		Info:          flags.info,
	})
	if err != nil {
		a.log.Error("Training failed: %v", err)

		return fmt.Errorf("training failed: %w", err)
	}

	err = modelpath.EnsureDir(filepath.Dir(flags.output))
	if err != nil {
		return err
	}

	err = result.Model.Save(flags.output)
	if err != nil {
		return err
	}

	if !result.Converged {
		a.log.Warn("EM stopped after %d iterations without converging", result.Iterations)
	}

	a.log.Info("Saved model to %s", flags.output)

	report := trainReport{
		Model:                describeModel(result.Model, flags.output),
		Vectors:              len(vectors),
		Iterations:           result.Iterations,
		Converged:            result.Converged,
		AverageLogLikelihood: result.AverageLogLikelihood,
	}

	return writeYAML(cmd.OutOrStdout(), report)
}

func newGMMInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <model>",
		Short: "Describe a mixture model",
		Long: `Print the header, weights and file size of a mixture model.

The model is looked up as given, then in paths.models_dir (or ./models),
then in the cache directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, path, err := a.loadModel(args[0])
			if err != nil {
				return err
			}

			return writeYAML(cmd.OutOrStdout(), describeModel(model, path))
		},
	}
}

func newGMMScoreCmd(a *app) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "score <model>",
		Short: "Score feature vectors against a mixture model",
		Long: `Report the log density and component posteriors of every vector.

Examples:
  hntmctl gmm score speaker.gmm -i test-mfcc.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, path, err := a.loadModel(args[0])
			if err != nil {
				return err
			}

			vectors, err := readVectorFile(input, a.log)
			if err != nil {
				return err
			}

			report, err := scoreVectors(model, vectors)
			if err != nil {
				return err
			}

			report.Model = path

			return writeYAML(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVarP(&input, flagInput, "i", "", "Text file of feature vectors")
	_ = cmd.MarkFlagRequired(flagInput)

	return cmd
}

func (a *app) loadModel(name string) (*gmm.GMM, string, error) {
	path, err := modelpath.Resolve(name, a.cfg.Paths.ModelsDir)
	if err != nil {
		return nil, "", err
	}

	if !modelpath.IsModelFile(path) {
		a.log.Warn("%s does not have the %s extension", path, modelpath.ExtModel)
	}

	model, err := gmm.Load(path)
	if err != nil {
		return nil, "", err
	}

	a.log.Info("Loaded model %s (%d components)", path, model.TotalComponents())

	return model, path, nil
}

func scoreVectors(model *gmm.GMM, vectors [][]float64) (*scoreReport, error) {
	report := &scoreReport{Scores: make([]vectorScore, len(vectors))}
	total := 0.0

	for i, x := range vectors {
		logDensity, err := model.LogProbability(x)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}

		score := vectorScore{Index: i, LogDensity: logDensity, BestComponent: -1}

		posteriors, err := model.ComponentProbabilities(x)
		if err != nil {
			score.PosteriorError = err.Error()
		} else {
			score.Posteriors = posteriors
			score.BestComponent = argmax(posteriors)
		}

		report.Scores[i] = score
		total += logDensity
	}

	report.AverageLogDensity = total / float64(len(vectors))

	return report, nil
}

func describeModel(model *gmm.GMM, path string) modelReport {
	report := modelReport{
		Path:             path,
		Info:             model.Info,
		FeatureDimension: model.FeatureDimension,
		Components:       model.TotalComponents(),
		Diagonal:         model.Diagonal,
		Weights:          model.Weights,
	}

	if path != "" {
		info, err := os.Stat(path)
		if err == nil {
			report.FileSize = modelpath.FormatFileSize(info.Size())
		}
	}

	return report
}

func argmax(values []float64) int {
	best, bestValue := -1, math.Inf(-1)

	for i, v := range values {
		if v > bestValue {
			best, bestValue = i, v
		}
	}

	return best
}
