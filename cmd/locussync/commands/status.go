package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/locussync/errors"
	syncPkg "github.com/teranos/locussync/sync"
)

// StatusCmd replicates a locus once and reports the resulting trees
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Replicate a locus once and show its data sets",
	Long: `Fetch the locus snapshot, bootstrap the replica and print one row per
registered data set: version, leaf count, element count and whether the
local root matches the root last reported by the server.

With --sync every visible data set is reconciled once before printing.`,
	RunE: runStatus,
}

func init() {
	StatusCmd.Flags().String("locus", "", "Locus URL returning the initial snapshot (overrides sync.locus_url)")
	StatusCmd.Flags().String("debug-id", "", "Identifier attached to every log line")
	StatusCmd.Flags().Bool("sync", false, "Run one reconciliation round per visible data set first")
	StatusCmd.Flags().Bool("json", false, "Output as JSON")
}

// dataSetStatus is one row of status output.
type dataSetStatus struct {
	Name       string `json:"name"`
	Visible    bool   `json:"visible"`
	Version    int64  `json:"version"`
	LeafCount  int    `json:"leaf_count"`
	Elements   int    `json:"elements"`
	LocalRoot  string `json:"local_root,omitempty"`
	RemoteRoot string `json:"remote_root,omitempty"`
	InSync     bool   `json:"in_sync"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	url, err := locusURL(cmd, cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var updates atomic.Int64
	parser, err := startReplica(ctx, cfg, newClient(cfg), url, debugID(cmd, cfg), func(_ syncPkg.UpdateType, u syncPkg.Update) {
		updates.Add(int64(len(u.UpdatedObjects)))
	})
	if err != nil {
		return err
	}
	defer parser.Stop()

	if doSync, _ := cmd.Flags().GetBool("sync"); doSync {
		for _, name := range parser.VisibleDataSets() {
			if err := parser.SyncDataSet(ctx, name); err != nil {
				return errors.Wrapf(err, "sync of %q", name)
			}
		}
	}

	rows := collectStatus(parser)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format JSON")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	table := pterm.TableData{{"Data set", "Visible", "Version", "Leaves", "Elements", "In sync"}}
	for _, r := range rows {
		table = append(table, []string{
			r.Name,
			yesNo(r.Visible),
			strconv.FormatInt(r.Version, 10),
			strconv.Itoa(r.LeafCount),
			strconv.Itoa(r.Elements),
			yesNo(r.InSync),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(table).WithWriter(cmd.OutOrStdout()).Render(); err != nil {
		return err
	}
	pterm.Info.Printfln("%d element updates received", updates.Load())
	return nil
}

func collectStatus(parser *syncPkg.Parser) []dataSetStatus {
	var rows []dataSetStatus
	for _, name := range parser.DataSetNames() {
		info, _ := parser.DataSet(name)
		row := dataSetStatus{
			Name:       name,
			Version:    info.Version,
			LeafCount:  info.LeafCount,
			RemoteRoot: info.Root,
		}
		if tree := parser.Tree(name); tree != nil {
			row.Visible = true
			row.Elements = tree.Size()
			row.LocalRoot = tree.RootHash()
			row.InSync = info.Root != "" && info.Root == row.LocalRoot
		}
		rows = append(rows, row)
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
