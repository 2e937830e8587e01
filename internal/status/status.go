// Package status is the single source of truth for shipment state
// representations: the persisted lifecycle status, the coarser user-facing
// progress step, and their display metadata. Every function here is total;
// unrecognized input degrades to a generic rendering and never errors.
package status

import (
	"strings"
	"unicode"
)

// LifecycleStatus is the authoritative persisted shipment state.
type LifecycleStatus string

const (
	StatusDraft     LifecycleStatus = "draft"
	StatusCreated   LifecycleStatus = "created"
	StatusConfirmed LifecycleStatus = "confirmed"
	StatusInTransit LifecycleStatus = "in_transit"
	StatusDelivered LifecycleStatus = "delivered"
	StatusCancelled LifecycleStatus = "cancelled"
	StatusReturned  LifecycleStatus = "returned"
)

// ProgressStep is the coarse 4-stage state shown on the progress bar.
type ProgressStep string

const (
	StepPending        ProgressStep = "pending"
	StepInTransit      ProgressStep = "in_transit"
	StepOutForDelivery ProgressStep = "out_for_delivery"
	StepDelivered      ProgressStep = "delivered"
)

// EventShipmentCreated is the type of the event appended at shipment creation.
// Every other event type equals the progress step that produced it.
const EventShipmentCreated = "shipment_created"

func (s LifecycleStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusCreated, StatusConfirmed, StatusInTransit,
		StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

func (p ProgressStep) Valid() bool {
	switch p {
	case StepPending, StepInTransit, StepOutForDelivery, StepDelivered:
		return true
	}
	return false
}

// ToProgressStep collapses a lifecycle status into its progress bucket.
// cancelled and returned map to pending on purpose: the 4-stage bar does not
// expose extra visual states for them.
func ToProgressStep(s LifecycleStatus) ProgressStep {
	switch s {
	case StatusInTransit:
		return StepInTransit
	case StatusDelivered:
		return StepDelivered
	default:
		// draft, created, confirmed, cancelled, returned and anything unknown.
		return StepPending
	}
}

// ToLifecycleStatus maps a staff-picked progress step to the lifecycle value to
// persist. Not the inverse of ToProgressStep: it never yields draft, confirmed,
// cancelled or returned, so this path can only move a shipment forward through
// created -> in_transit -> delivered. out_for_delivery exists only at
// progress-step granularity and persists as in_transit.
func ToLifecycleStatus(p ProgressStep) LifecycleStatus {
	switch p {
	case StepInTransit, StepOutForDelivery:
		return StatusInTransit
	case StepDelivered:
		return StatusDelivered
	default:
		return StatusCreated
	}
}

// Reconcile resolves possibly-stale denormalized data into the step to
// display. The lifecycle status decides the coarse bucket; the stored step
// only refines in_transit into out_for_delivery, a distinction the lifecycle
// enum cannot carry.
func Reconcile(s LifecycleStatus, p ProgressStep) ProgressStep {
	derived := ToProgressStep(s)
	if derived == StepInTransit && p == StepOutForDelivery {
		return StepOutForDelivery
	}
	return derived
}

// ProgressIndex positions a step on the 4-stage bar: pending 0, in_transit 1,
// out_for_delivery 2, delivered 3.
func ProgressIndex(p ProgressStep) int {
	switch p {
	case StepInTransit:
		return 1
	case StepOutForDelivery:
		return 2
	case StepDelivered:
		return 3
	default:
		return 0
	}
}

// ProgressIndexFromStatus derives the bar index from the lifecycle status
// alone. The lifecycle enum cannot distinguish out_for_delivery from plain
// in_transit, so index 2 is unreachable here; callers that have the progress
// step should use ProgressIndex instead.
func ProgressIndexFromStatus(s LifecycleStatus) int {
	return ProgressIndex(ToProgressStep(s))
}

// Label returns the English display label for a status or progress step.
// Unknown values get their snake_case title-cased; empty input reads "Unknown".
func Label(v string) string {
	switch strings.ToLower(v) {
	case "draft":
		return "Draft"
	case "created", "pending":
		return "Pending"
	case "confirmed":
		return "Confirmed"
	case "in_transit":
		return "In Transit"
	case "out_for_delivery":
		return "Out for Delivery"
	case "delivered":
		return "Delivered"
	case "cancelled":
		return "Cancelled"
	case "returned":
		return "Returned"
	case "":
		return "Unknown"
	}
	return titleWords(v)
}

// Style is the badge color pair for a status or progress step.
type Style struct {
	Background string `json:"background"`
	Foreground string `json:"foreground"`
}

// StyleFor returns the badge colors, with a neutral gray default for
// unrecognized values.
func StyleFor(v string) Style {
	bg := "#6B7280"
	switch strings.ToLower(v) {
	case "draft":
		bg = "#9CA3AF"
	case "created", "pending":
		bg = "#FF8D28"
	case "confirmed":
		bg = "#8B5CF6"
	case "in_transit":
		bg = "#00C8B3"
	case "out_for_delivery":
		bg = "#3B82F6"
	case "delivered":
		bg = "#34C759"
	case "cancelled":
		bg = "#EF4444"
	case "returned":
		bg = "#F59E0B"
	}
	return Style{Background: bg, Foreground: "#FFFFFF"}
}

func titleWords(v string) string {
	words := strings.FieldsFunc(strings.ToLower(v), func(r rune) bool {
		return r == '_' || r == ' '
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
