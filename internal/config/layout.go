package config

// Known sample file revisions
const (
	// LayoutOptVol is the optvol export: Temperature, Velocity, X, Y, Z.
	LayoutOptVol = "optvol"
	// LayoutOPDData is the older OPDData export: RI, Temperature, X, Y, Z.
	LayoutOPDData = "opddata"
)

// CSVLayout describes where the sample columns live in a delimited file.
// The three position columns are contiguous starting at PositionColumn.
type CSVLayout struct {
	TemperatureColumn int
	PositionColumn    int
	SkipRows          int
}

var layoutPresets = map[string]CSVLayout{
	LayoutOptVol:  {TemperatureColumn: 0, PositionColumn: 2, SkipRows: 1},
	LayoutOPDData: {TemperatureColumn: 1, PositionColumn: 2, SkipRows: 1},
}

// GetCSVLayout resolves the preset named by csv_layout (default optvol) and
// applies any explicit column overrides on top.
func (c *RunConfig) GetCSVLayout() CSVLayout {
	name := LayoutOptVol
	if c.CSVLayout != nil {
		name = *c.CSVLayout
	}
	layout, ok := layoutPresets[name]
	if !ok {
		layout = layoutPresets[LayoutOptVol]
	}
	if c.TemperatureColumn != nil {
		layout.TemperatureColumn = *c.TemperatureColumn
	}
	if c.PositionColumn != nil {
		layout.PositionColumn = *c.PositionColumn
	}
	if c.SkipRows != nil {
		layout.SkipRows = *c.SkipRows
	}
	return layout
}
