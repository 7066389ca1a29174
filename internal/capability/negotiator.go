// Package capability implements capability negotiation:
// it intersects a channel, provider, and policy CapabilityProfile into
// effective per-modality limits and produces a DeliveryPlan for one
// turn's input parts and requested output modalities.
package capability

import (
	"fmt"

	"github.com/haasonsaas/mozi/pkg/models"
)

// Part is one unit of inbound or outbound content the negotiator gates.
type Part struct {
	Modality models.InputModality
	Bytes    int64
	MimeType string
	Text     string // populated for text parts, or after a fallback substitution
}

// TransformKind discriminates why a Part was rewritten in the plan.
type TransformKind string

const (
	TransformFallbackText TransformKind = "fallbackText"
	TransformSummarize    TransformKind = "summarize"
)

// Transform records one part's fallback substitution, surfaced so callers
// can log or audit what the negotiator changed.
type Transform struct {
	Kind     TransformKind
	Modality models.InputModality
	Reason   string
}

// RuntimeLimits are the cross-cutting caps applied after per-part
// decisions.
type RuntimeLimits struct {
	MaxTotalBytes  int64
	LatencyBudgetMs int64
}

// DeliveryPlan is Negotiate's output.
type DeliveryPlan struct {
	Accepted         bool
	RejectReason     string
	InputParts       []Part
	OutputModalities []models.InputModality
	Transforms       []Transform
}

// fallbackText returns the well-known text stand-in for a rejected
// non-text part, carrying the reason.
func fallbackText(modality models.InputModality) string {
	switch modality {
	case models.ModalityImage:
		return "[image omitted: no compatible image pipeline available]"
	case models.ModalityAudio:
		return "[audio omitted: no compatible audio pipeline available]"
	case models.ModalityVideo:
		return "[video omitted: no compatible video pipeline available]"
	case models.ModalityFile:
		return "[file omitted: no compatible file pipeline available]"
	default:
		return "[content omitted: no compatible pipeline available]"
	}
}

// effectiveLimits computes the component-wise intersection of channel,
// provider, and policy limits for one modality: enabled requires all
// enabled, maxBytes and maxDurationMs take the minimum of defined
// values, and acceptedMimeTypes intersects the non-null lists.
func effectiveLimits(modality models.InputModality, profiles ...map[models.InputModality]models.ModalityLimits) models.ModalityLimits {
	out := models.ModalityLimits{Enabled: true}
	var maxBytes, maxDuration []int64
	var mimeSets [][]string

	for _, profile := range profiles {
		limits, ok := profile[modality]
		if !ok || !limits.Enabled {
			out.Enabled = false
			continue
		}
		if limits.MaxBytes != nil {
			maxBytes = append(maxBytes, *limits.MaxBytes)
		}
		if limits.MaxDurationMs != nil {
			maxDuration = append(maxDuration, *limits.MaxDurationMs)
		}
		if limits.AcceptedMimeTypes != nil {
			mimeSets = append(mimeSets, limits.AcceptedMimeTypes)
		}
	}

	out.MaxBytes = minInt64(maxBytes)
	out.MaxDurationMs = minInt64(maxDuration)
	if len(mimeSets) > 0 {
		out.AcceptedMimeTypes = intersectStrings(mimeSets)
	}
	return out
}

func minInt64(values []int64) *int64 {
	if len(values) == 0 {
		return nil
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return &min
}

func intersectStrings(sets [][]string) []string {
	if len(sets) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, set := range sets {
		seen := map[string]bool{}
		for _, v := range set {
			if seen[v] {
				continue
			}
			seen[v] = true
			counts[v]++
		}
	}
	var out []string
	for v, c := range counts {
		if c == len(sets) {
			out = append(out, v)
		}
	}
	return out
}

func acceptsPart(limits models.ModalityLimits, part Part) bool {
	if !limits.Enabled {
		return false
	}
	if limits.MaxBytes != nil && part.Bytes > *limits.MaxBytes {
		return false
	}
	if len(limits.AcceptedMimeTypes) > 0 && part.MimeType != "" {
		allowed := false
		for _, mt := range limits.AcceptedMimeTypes {
			if mt == part.MimeType {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

// Negotiate computes the DeliveryPlan for one turn.
func Negotiate(
	inputParts []Part,
	requestedOutputModalities []models.InputModality,
	channel, provider, policy models.CapabilityProfile,
	limits RuntimeLimits,
) DeliveryPlan {
	plan := DeliveryPlan{Accepted: true}

	var totalBytes int64
	for _, part := range inputParts {
		inputLimits := effectiveLimits(part.Modality, channel.Input, provider.Input, policy.Input)

		if acceptsPart(inputLimits, part) {
			plan.InputParts = append(plan.InputParts, part)
			totalBytes += part.Bytes
			continue
		}

		if part.Modality == models.ModalityText {
			return DeliveryPlan{Accepted: false, RejectReason: fmt.Sprintf("text part exceeds effective limits for modality %q", part.Modality)}
		}

		reason := fallbackText(part.Modality)
		fallback := Part{Modality: models.ModalityText, Text: reason, Bytes: int64(len(reason))}
		textLimits := effectiveLimits(models.ModalityText, channel.Input, provider.Input, policy.Input)
		if !acceptsPart(textLimits, fallback) {
			return DeliveryPlan{Accepted: false, RejectReason: fmt.Sprintf("part of modality %q rejected and its text fallback also exceeds limits", part.Modality)}
		}

		plan.InputParts = append(plan.InputParts, fallback)
		plan.Transforms = append(plan.Transforms, Transform{Kind: TransformFallbackText, Modality: part.Modality, Reason: reason})
		totalBytes += fallback.Bytes
	}

	if limits.MaxTotalBytes > 0 && totalBytes > limits.MaxTotalBytes {
		return DeliveryPlan{Accepted: false, RejectReason: fmt.Sprintf("total input bytes %d exceed maxTotalBytes %d", totalBytes, limits.MaxTotalBytes)}
	}

	outputModalities, textSubstituted := negotiateOutputs(requestedOutputModalities, channel, provider, policy)
	if outputModalities == nil {
		return DeliveryPlan{Accepted: false, RejectReason: "no requested output modality is enabled and text output is not permitted"}
	}
	plan.OutputModalities = outputModalities
	if textSubstituted {
		plan.Transforms = append(plan.Transforms, Transform{Kind: TransformSummarize, Modality: models.ModalityText, Reason: "no requested output modality is enabled; substituted text"})
	}

	return plan
}

// negotiateOutputs selects the intersection of requested output
// modalities with enabled output limits; if empty and text is permitted,
// it substitutes text, otherwise the plan is rejected.
func negotiateOutputs(requested []models.InputModality, channel, provider, policy models.CapabilityProfile) ([]models.InputModality, bool) {
	var enabled []models.InputModality
	for _, modality := range requested {
		limits := effectiveLimits(modality, channel.Output, provider.Output, policy.Output)
		if limits.Enabled {
			enabled = append(enabled, modality)
		}
	}
	if len(enabled) > 0 {
		return enabled, false
	}

	textLimits := effectiveLimits(models.ModalityText, channel.Output, provider.Output, policy.Output)
	if textLimits.Enabled {
		return []models.InputModality{models.ModalityText}, true
	}
	return nil, false
}
