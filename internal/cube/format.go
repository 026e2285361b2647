package cube

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is used when printing irrigation schedule times
const TimeLayout = "2006-01-02 15:04"

// Summary returns a one-line summary of the circuit
func (c Circuit) Summary() string {
	return fmt.Sprintf("%s (%s): %s", c.Name, c.NormalizedID, c.StatusLabel())
}

// StatusLabel returns a short label for the irrigation state
func (c Circuit) StatusLabel() string {
	switch {
	case c.WinterMode:
		return "WINTER"
	case c.ExternBlock:
		return "BLOCKED"
	case c.IrrigationActive:
		return "IRRIGATING"
	default:
		return "IDLE"
	}
}

// FormatCompact returns a compact multi-line format suitable for terminal display
func (c Circuit) FormatCompact() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Circuit: %s (%s)\n", c.Name, c.NormalizedID))
	b.WriteString(fmt.Sprintf("State:   %s\n", c.StatusLabel()))
	b.WriteString(fmt.Sprintf("Next:    %s\n", FormatSchedule(c.NextIrrigationStart, c.NextIrrigationEnd)))
	if c.HasSensor() {
		b.WriteString(fmt.Sprintf("Sensor:  %.1f°C, %.0f%% moisture, brightness %.0f\n",
			c.Temperature, c.Moisture, c.Brightness))
	}

	return b.String()
}

// FormatDetailed returns a comprehensive formatted string with all circuit details
func (c Circuit) FormatDetailed() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("=== Circuit %s ===\n", c.Name))
	b.WriteString(fmt.Sprintf("ID:             %s\n", c.NormalizedID))
	b.WriteString(fmt.Sprintf("Cube ID:        %s\n", c.ID))
	b.WriteString(fmt.Sprintf("Irrigation:     %v\n", c.IrrigationActive))
	b.WriteString(fmt.Sprintf("Winter Mode:    %v\n", c.WinterMode))
	b.WriteString(fmt.Sprintf("Extern Block:   %v\n", c.ExternBlock))
	b.WriteString(fmt.Sprintf("Next Start:     %s\n", formatTime(c.NextIrrigationStart)))
	b.WriteString(fmt.Sprintf("Next End:       %s\n", formatTime(c.NextIrrigationEnd)))
	b.WriteString("\n")

	b.WriteString("=== Zone Parameters ===\n")
	b.WriteString(fmt.Sprintf("Border Top:     %g\n", c.Params.BorderTop))
	b.WriteString(fmt.Sprintf("Border Bottom:  %g\n", c.Params.BorderBottom))
	b.WriteString(fmt.Sprintf("Consider Mower: %v\n", c.Params.ConsiderMower))

	if c.HasSensor() {
		b.WriteString("\n")
		b.WriteString("=== Sensor ===\n")
		b.WriteString(fmt.Sprintf("Sensor ID:      %s\n", c.SensorID))
		b.WriteString(fmt.Sprintf("Temperature:    %.1f°C\n", c.Temperature))
		b.WriteString(fmt.Sprintf("Moisture:       %.0f%%\n", c.Moisture))
		b.WriteString(fmt.Sprintf("Brightness:     %.0f\n", c.Brightness))
	}

	return b.String()
}

// FormatSchedule renders the next irrigation window
func FormatSchedule(start, end time.Time) string {
	if start.IsZero() && end.IsZero() {
		return "(none scheduled)"
	}
	return fmt.Sprintf("%s → %s", formatTime(start), formatTime(end))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(TimeLayout)
}
