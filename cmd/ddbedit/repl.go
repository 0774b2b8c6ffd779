package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ergochat/readline"

	"github.com/mrtj/dynamodb-connection/codec"
	"github.com/mrtj/dynamodb-connection/diff"
	"github.com/mrtj/dynamodb-connection/editor"
	"github.com/mrtj/dynamodb-connection/item"
)

var (
	ErrUsage     = errors.New("bad arguments")
	ErrNoSuchRow = errors.New("no such row")
	ErrRowExists = errors.New("row already exists")
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("show"),
	readline.PcItem("get"),
	readline.PcItem("set"),
	readline.PcItem("unset"),
	readline.PcItem("null"),
	readline.PcItem("add"),
	readline.PcItem("del"),
	readline.PcItem("rename"),
	readline.PcItem("diff"),
	readline.PcItem("commit"),
	readline.PcItem("reload"),
	readline.PcItem("stale"),
	readline.PcItem("export"),
	readline.PcItem("import"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

const help = `show                       print the working copy
get <key>                  read a row from the table
set <key> <attr> <text>    set a cell; text is coerced to the column type
unset <key> <attr>         remove an attribute
null <key> <attr>          set an attribute to NULL
add <key>                  add a row
del <key>                  delete a row
rename <key> <new>         change a row's key
diff                       show what commit would write
commit                     write the working copy
reload                     rescan the table and drop local edits
stale                      list rows changed by other writers
export <file>              write the working copy as CSV
import <file>              replace the working copy with a CSV file
quit
`

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// Getter reads single rows from the table.
type Getter interface {
	Get(ctx context.Context, k item.Key) (item.Item, error)
}

// REPL edits a working copy of the grid and commits it through an editor.
type REPL struct {
	editor *editor.Editor
	getter Getter
	out    io.Writer
	rl     *readline.Instance

	keyAttr string
	hints   codec.Hints
	rows    []codec.EditedRow
}

func NewREPL(ed *editor.Editor, getter Getter, out io.Writer) *REPL {
	return &REPL{editor: ed, getter: getter, out: out, keyAttr: ed.Codec().KeyAttribute}
}

func (repl *REPL) Open(history string) (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "ddb> ",
		HistoryFile:     history,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

// Run reads commands until quit or EOF.
func (repl *REPL) Run(ctx context.Context) error {
	for {
		line, err := repl.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		err = repl.Execute(ctx, line)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		}
	}
}

// Reset replaces the working copy with the editor's baseline.
func (repl *REPL) Reset() error {
	g, err := repl.editor.Grid()
	if err != nil {
		return err
	}
	repl.hints = g.Hints
	repl.rows = rowsOf(g)
	return nil
}

func rowsOf(g codec.Grid) []codec.EditedRow {
	rows := make([]codec.EditedRow, len(g.Rows))
	for i, r := range g.Rows {
		origin := g.Keys[i]
		cells := make(codec.Row, len(r))
		for name, c := range r {
			cells[name] = c
		}
		rows[i] = codec.EditedRow{Origin: &origin, Cells: cells}
	}
	return rows
}

// Execute runs one command line. quit returns io.EOF.
func (repl *REPL) Execute(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "help":
		_, err := io.WriteString(repl.out, help)
		return err
	case "show", "ls":
		return repl.CommandShow()
	case "get":
		return repl.CommandGet(ctx, args)
	case "set":
		if len(args) < 2 {
			return ErrUsage
		}
		text := strings.Join(args[2:], " ")
		return repl.setCell(args[0], args[1], codec.TextCell(text))
	case "unset":
		if len(args) != 2 {
			return ErrUsage
		}
		return repl.setCell(args[0], args[1], codec.Remove())
	case "null":
		if len(args) != 2 {
			return ErrUsage
		}
		return repl.setCell(args[0], args[1], codec.NullCell())
	case "add":
		return repl.CommandAdd(args)
	case "del":
		return repl.CommandDel(args)
	case "rename":
		if len(args) != 2 {
			return ErrUsage
		}
		if repl.find(args[1]) >= 0 {
			return fmt.Errorf("%w: %s", ErrRowExists, args[1])
		}
		return repl.setCell(args[0], repl.keyAttr, codec.TextCell(args[1]))
	case "diff":
		return repl.CommandDiff()
	case "commit":
		return repl.CommandCommit(ctx)
	case "reload":
		if err := repl.editor.Load(ctx); err != nil {
			return err
		}
		return repl.Reset()
	case "stale":
		for _, k := range repl.editor.Stale() {
			_, _ = fmt.Fprintln(repl.out, k)
		}
		return nil
	case "export":
		return repl.CommandExport(args)
	case "import":
		return repl.CommandImport(args)
	case "exit", "quit":
		return io.EOF
	default:
		return fmt.Errorf("command unknown: %s", cmd)
	}
}

// find returns the index of the working row whose key cell reads text.
func (repl *REPL) find(text string) int {
	for i, r := range repl.rows {
		if r.Cells[repl.keyAttr].Display() == text {
			return i
		}
	}
	return -1
}

func (repl *REPL) setCell(key, attr string, c codec.Cell) error {
	i := repl.find(key)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNoSuchRow, key)
	}
	if attr == repl.keyAttr && c.Kind != codec.CellText {
		return fmt.Errorf("%w: the key attribute cannot be removed", ErrUsage)
	}
	repl.rows[i].Cells[attr] = c
	return nil
}

func (repl *REPL) columns() []string {
	seen := map[string]bool{repl.keyAttr: true}
	var rest []string
	for _, r := range repl.rows {
		for name := range r.Cells {
			if !seen[name] {
				seen[name] = true
				rest = append(rest, name)
			}
		}
	}
	sort.Strings(rest)
	return append([]string{repl.keyAttr}, rest...)
}

func (repl *REPL) grid() codec.Grid {
	g := codec.Grid{KeyAttribute: repl.keyAttr, Columns: repl.columns(), Hints: repl.hints}
	for _, r := range repl.rows {
		g.Rows = append(g.Rows, r.Cells)
	}
	return g
}

func (repl *REPL) CommandShow() error {
	cols := repl.columns()
	tw := tabwriter.NewWriter(repl.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for _, r := range repl.rows {
		fields := make([]string, len(cols))
		for i, col := range cols {
			c, ok := r.Cells[col]
			switch {
			case !ok || c.Kind == codec.CellEmpty:
				fields[i] = ""
			case c.Kind == codec.CellNull:
				fields[i] = "NULL"
			default:
				fields[i] = c.Display()
			}
		}
		_, _ = fmt.Fprintln(tw, strings.Join(fields, "\t"))
	}
	return tw.Flush()
}

func (repl *REPL) CommandGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	k := item.StringKey(args[0])
	if repl.hints[repl.keyAttr] == codec.ColumnNumber {
		v, err := item.ParseNumber(args[0])
		if err != nil {
			return fmt.Errorf("%w: key must be a number", ErrUsage)
		}
		k, _ = item.KeyFromValue(v)
	}
	it, err := repl.getter.Get(ctx, k)
	if err != nil {
		return err
	}
	for _, name := range it.Names() {
		_, _ = fmt.Fprintf(repl.out, "%s: %s\n", name, codec.MarshalJSONValue(it[name]))
	}
	return nil
}

func (repl *REPL) CommandAdd(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	if repl.find(args[0]) >= 0 {
		return fmt.Errorf("%w: %s", ErrRowExists, args[0])
	}
	repl.rows = append(repl.rows, codec.EditedRow{Cells: codec.Row{repl.keyAttr: codec.TextCell(args[0])}})
	return nil
}

func (repl *REPL) CommandDel(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	i := repl.find(args[0])
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNoSuchRow, args[0])
	}
	repl.rows = append(repl.rows[:i], repl.rows[i+1:]...)
	return nil
}

func (repl *REPL) CommandDiff() error {
	baseline, err := repl.editor.Baseline()
	if err != nil {
		return err
	}
	edited, err := repl.editor.Codec().DecodeGrid(baseline, repl.hints, repl.rows)
	cellErrs := codec.Errors(err)
	if err != nil && len(cellErrs) == 0 {
		return err
	}
	for _, ce := range cellErrs {
		_, _ = fmt.Fprintf(repl.out, "! %s\n", ce)
	}
	d, err := repl.editor.Diff(edited)
	if err != nil {
		return err
	}
	if d.Empty() {
		_, _ = fmt.Fprintln(repl.out, "no changes")
		return nil
	}
	_, err = io.WriteString(repl.out, d.String())
	return err
}

func (repl *REPL) CommandCommit(ctx context.Context) error {
	res, err := repl.editor.Commit(ctx, repl.rows, repl.hints)
	if err != nil {
		return err
	}
	for _, ce := range res.CellErrors {
		_, _ = fmt.Fprintf(repl.out, "! %s\n", ce)
	}
	_, _ = fmt.Fprintf(repl.out, "commit %s: %d written, %d failed\n", res.CommitID, len(res.Succeeded), len(res.Failed))
	for _, f := range res.Failed {
		_, _ = fmt.Fprintf(repl.out, "  %s [%s]\n", f, f.Kind)
	}

	pending := repl.pending(res)
	if err := repl.Reset(); err != nil {
		return err
	}
	repl.keepPending(pending, res)
	return nil
}

// pending returns the working rows whose changes failed to commit.
func (repl *REPL) pending(res *editor.Result) []codec.EditedRow {
	failed := make(map[string]bool, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.Key.Text] = true
	}
	var out []codec.EditedRow
	for _, r := range repl.rows {
		if failed[r.Cells[repl.keyAttr].Display()] || (r.Origin != nil && failed[r.Origin.Text]) {
			out = append(out, r)
		}
	}
	return out
}

// keepPending lays the failed edits back over a fresh working copy so
// they can be retried.
func (repl *REPL) keepPending(pending []codec.EditedRow, res *editor.Result) {
	drop := make(map[item.Key]bool)
	for _, f := range res.Failed {
		if f.Op == diff.Deleted {
			drop[f.Key] = true
		}
	}
	for _, r := range pending {
		if r.Origin != nil {
			drop[*r.Origin] = true
		}
	}
	rows := repl.rows[:0]
	for _, r := range repl.rows {
		if r.Origin == nil || !drop[*r.Origin] {
			rows = append(rows, r)
		}
	}
	repl.rows = append(rows, pending...)
}

func (repl *REPL) CommandExport(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := codec.WriteCSV(f, repl.grid()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (repl *REPL) CommandImport(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	rows, err := codec.ReadCSV(f)
	if err != nil {
		return err
	}
	repl.rows = rows
	_, _ = fmt.Fprintf(repl.out, "imported %d rows\n", len(rows))
	return nil
}
