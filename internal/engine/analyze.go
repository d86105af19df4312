package engine

import (
	"fmt"

	"github.com/petrijr/steward/pkg/api"
)

// Analyze inspects a run's step metadata. Steps with no declared
// dependencies count as parallelizable. The improvement estimate is a
// heuristic over the step count; it never influences execution, which
// stays strictly sequential.
func (e *Engine) Analyze(runID string) (api.RunAnalysis, error) {
	run, err := e.runs.GetRun(runID)
	if err != nil {
		return api.RunAnalysis{}, err
	}

	analysis := api.RunAnalysis{
		RunID:      runID,
		TotalSteps: len(run.Steps),
	}
	for _, step := range run.Steps {
		if len(step.Dependencies) == 0 {
			analysis.ParallelizableSteps++
		}
	}
	if analysis.ParallelizableSteps > 1 {
		analysis.EstimatedImprovementPct = (analysis.ParallelizableSteps - 1) * 100 / analysis.TotalSteps
	}
	return analysis, nil
}

// Optimize turns an analysis into textual suggestions. It never reorders
// execution.
func (e *Engine) Optimize(runID string) (api.OptimizeResult, error) {
	analysis, err := e.Analyze(runID)
	if err != nil {
		return api.OptimizeResult{}, err
	}

	result := api.OptimizeResult{RunID: runID}
	if analysis.ParallelizableSteps > 1 {
		result.Suggestions = append(result.Suggestions, fmt.Sprintf(
			"%d of %d steps declare no dependencies and could run in parallel (estimated %d%% faster)",
			analysis.ParallelizableSteps, analysis.TotalSteps, analysis.EstimatedImprovementPct,
		))
	}

	run, err := e.runs.GetRun(runID)
	if err != nil {
		return api.OptimizeResult{}, err
	}
	tpl, err := e.catalog.Get(run.TemplateName)
	if err == nil {
		gates := 0
		for _, spec := range tpl.Steps {
			if spec.IsApprovalGate {
				gates++
			}
		}
		if gates > 1 {
			result.Suggestions = append(result.Suggestions, fmt.Sprintf(
				"%d approval gates each add wait time; consider consolidating sign-offs", gates,
			))
		}
	}

	if len(result.Suggestions) == 0 {
		result.Suggestions = append(result.Suggestions, "no optimization opportunities found")
	}
	return result, nil
}
