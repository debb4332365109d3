package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/audiolibrelab/voicecollect/internal/client"
	"github.com/audiolibrelab/voicecollect/internal/config"
	"github.com/audiolibrelab/voicecollect/internal/synclog"
)

func openSyncLog(c *config.Config) (synclog.Log, error) {
	log, err := synclog.Open(synclog.Backend(c.Queue.Backend), c.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local queue: %w", err)
	}
	return log, nil
}

func newAPIClient(c *config.Config) (*client.Client, error) {
	api, err := client.New(c.Client.ServerURL,
		client.WithTimeout(c.Client.Timeout),
		client.WithHealthTimeout(c.Client.HealthTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create server client: %w", err)
	}
	return api, nil
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) {
	columns := len(headers)
	if columns == 0 {
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	tw.Render()
}
