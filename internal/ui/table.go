package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/muurk/miyo/internal/cube"
	"github.com/muurk/miyo/internal/discovery"
)

// noStatusColumn disables status coloring in renderTable
const noStatusColumn = -1

// CircuitRows converts circuits to table rows: id, name, status, schedule, sensor
func CircuitRows(circuits []cube.Circuit) [][]string {
	rows := make([][]string, 0, len(circuits))
	for _, c := range circuits {
		rows = append(rows, []string{
			c.NormalizedID,
			c.Name,
			c.StatusLabel(),
			cube.FormatSchedule(c.NextIrrigationStart, c.NextIrrigationEnd),
			sensorCell(c),
		})
	}
	return rows
}

func sensorCell(c cube.Circuit) string {
	if !c.HasSensor() {
		return "-"
	}
	return fmt.Sprintf("%.1f°C  %.0f%%  %.0f lx", c.Temperature, c.Moisture, c.Brightness)
}

// RenderCircuitTable renders circuits as a bordered table
func RenderCircuitTable(circuits []cube.Circuit) string {
	return renderTable(
		[]string{"ID", "Name", "Status", "Next irrigation", "Sensor"},
		CircuitRows(circuits),
		2,
	)
}

// RenderCubeTable renders cubes found by an mDNS scan
func RenderCubeTable(cubes []*discovery.Cube) string {
	rows := make([][]string, 0, len(cubes))
	for _, c := range cubes {
		rows = append(rows, []string{c.Name, c.Address(), strings.TrimSuffix(c.Hostname, ".")})
	}
	return renderTable([]string{"Name", "Address", "Hostname"}, rows, noStatusColumn)
}

// ConfiguredCube is one row of the configured cube listing
type ConfiguredCube struct {
	Name     string
	Host     string
	Paired   bool
	LastSeen string
}

// RenderConfiguredCubes renders cubes from the configuration file
func RenderConfiguredCubes(cubes []ConfiguredCube) string {
	rows := make([][]string, 0, len(cubes))
	for _, c := range cubes {
		paired := "no"
		if c.Paired {
			paired = "yes"
		}
		lastSeen := c.LastSeen
		if lastSeen == "" {
			lastSeen = "never"
		}
		rows = append(rows, []string{c.Name, c.Host, paired, lastSeen})
	}
	return renderTable([]string{"Name", "Host", "Paired", "Last seen"}, rows, noStatusColumn)
}

// renderTable draws a rounded table. When statusCol is a valid column its
// cells are colored by StatusStyle.
func renderTable(headers []string, rows [][]string, statusCol int) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(PrimaryColor)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			if col == statusCol && row >= 0 && row < len(rows) {
				return StatusStyle(rows[row][col])
			}
			if col == 0 {
				return TableMutedCellStyle
			}
			return TableCellStyle
		})

	return t.Render()
}
