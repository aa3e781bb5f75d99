package params

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cast"
)

// Values returns t keyed by parameter name, formatted the way a store holds them.
func (t Tunables) Values() map[string]string {
	return map[string]string{
		KeyFilterLow:            cast.ToString(t.FilterLow),
		KeyFilterHigh:           cast.ToString(t.FilterHigh),
		KeyDistanceThreshold:    cast.ToString(t.DistanceThreshold),
		KeyFilterFieldName:      t.FilterAxis.String(),
		KeyPointColorThreshold:  cast.ToString(t.PointColorThreshold),
		KeyRegionColorThreshold: cast.ToString(t.RegionColorThreshold),
		KeyMinClusterSize:       cast.ToString(t.MinClusterSize),
		KeyLeafSizeX:            cast.ToString(t.LeafSize.X),
		KeyLeafSizeY:            cast.ToString(t.LeafSize.Y),
		KeyLeafSizeZ:            cast.ToString(t.LeafSize.Z),
		KeyOutputMode:           string(t.OutputMode),
	}
}

// String prints a table of every parameter next to its default.
func (t Tunables) String() string {
	values := t.Values()
	defaults := DefaultTunables().Values()

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Parameter", "Value", "Default"})
	for _, key := range Keys {
		tw.AppendRow(table.Row{key, values[key], defaults[key]})
	}
	return tw.Render()
}
