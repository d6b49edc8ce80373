package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evoludigit/pggit"
	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/op"
	"github.com/evoludigit/pggit/ps"
	"github.com/evoludigit/pggit/sql"
	"github.com/evoludigit/pggit/vc"
)

const (
	PromptColor  = "\033[36m" // Cyan
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
	BoldColor    = "\033[1m"
)

// Version is set at build time via -ldflags
var Version = "dev"

// CLI holds the REPL state.
type CLI struct {
	engine      *vc.Engine
	branch      string // current branch context
	history     []string
	historyFile string
}

func main() {
	baseDir := flag.String("baseDir", "", "Base directory for file persistence (memory if empty)")
	sqlitePath := flag.String("sqlite", "", "SQLite database path (overrides baseDir)")
	sqlFile := flag.String("sqlFile", "", "SQL file to commit (non-interactive)")
	branch := flag.String("branch", "main", "Branch to work on")
	userName := flag.String("name", "pggit", "Author name for commits")
	userEmail := flag.String("email", "cli@pggit.local", "Author email for commits")
	flag.Parse()

	printBanner()

	var persistence *ps.Persistence
	var err error
	switch {
	case *sqlitePath != "":
		fmt.Printf("%sUsing sqlite persistence: %s%s\n", SuccessColor, *sqlitePath, ResetColor)
		persistence, err = ps.NewSQLitePersistence(*sqlitePath)
	case *baseDir != "":
		fmt.Printf("%sUsing file persistence: %s%s\n", SuccessColor, *baseDir, ResetColor)
		persistence, err = ps.NewFilePersistence(*baseDir)
	default:
		fmt.Printf("%sUsing memory persistence%s\n", SuccessColor, ResetColor)
		persistence, err = ps.NewMemoryPersistence()
	}
	if err != nil {
		fmt.Printf("%sError: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	defer persistence.Close()

	engine := pggit.Open(persistence).Engine(core.Identity{
		Name:  *userName,
		Email: *userEmail,
	})
	ensureBranch(engine, *branch)

	cli := &CLI{
		engine:      engine,
		branch:      *branch,
		history:     make([]string, 0),
		historyFile: getHistoryPath(),
	}
	cli.loadHistory()

	if *sqlFile != "" {
		if err := cli.importFile(*sqlFile); err != nil {
			fmt.Printf("%sError importing file: %v%s\n", ErrorColor, err, ResetColor)
			os.Exit(1)
		}
		return
	}

	cli.run()
}

// ensureBranch creates the working branch if the repository doesn't have it
// yet.
func ensureBranch(engine *vc.Engine, name string) {
	if _, err := engine.GetBranch(name); err != nil {
		if _, err := engine.CreateBranch(name, core.ZeroHash, engine.Identity); err != nil {
			fmt.Printf("%sError creating branch %q: %v%s\n", ErrorColor, name, err, ResetColor)
		}
	}
}

func printBanner() {
	fmt.Println()
	fmt.Printf("%s%spggit v%s - schema version control%s\n", BoldColor, PromptColor, Version, ResetColor)
	fmt.Println()
	fmt.Println("Type .help for commands, .quit to exit")
	fmt.Println()
}

func (cli *CLI) run() {
	reader := bufio.NewReader(os.Stdin)
	var multiLineBuffer strings.Builder

	for {
		fmt.Print(cli.getPrompt(multiLineBuffer.Len() > 0))

		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Printf("\n%sGoodbye!%s\n", SuccessColor, ResetColor)
			return
		}

		input = strings.TrimSuffix(input, "\n")
		input = strings.TrimSuffix(input, "\r")
		if strings.TrimSpace(input) == "" {
			continue
		}

		if multiLineBuffer.Len() == 0 && strings.HasPrefix(input, ".") {
			cli.handleCommand(input)
			continue
		}

		// Multi-line support: accumulate until we see a semicolon.
		multiLineBuffer.WriteString(input)
		trimmed := strings.TrimSpace(multiLineBuffer.String())
		if !strings.HasSuffix(trimmed, ";") {
			multiLineBuffer.WriteString(" ")
			continue
		}

		statement := strings.TrimSuffix(trimmed, ";")
		multiLineBuffer.Reset()
		if strings.TrimSpace(statement) == "" {
			continue
		}

		cli.addToHistory(statement + ";")
		if err := cli.commitStatement(statement); err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		}
	}
}

func (cli *CLI) getPrompt(multiLine bool) string {
	if multiLine {
		return fmt.Sprintf("%s   ...>%s ", PromptColor, ResetColor)
	}
	return fmt.Sprintf("%spggit (%s)>%s ", PromptColor, cli.branch, ResetColor)
}

// commitStatement turns one CREATE statement into a commit on the current
// branch. Whether the object already exists decides CREATE vs ALTER.
func (cli *CLI) commitStatement(definition string) error {
	path, err := objectPath(definition)
	if err != nil {
		return err
	}

	kind := core.ChangeCreate
	if _, lookupErr := cli.engine.ObjectAt(cli.branch, path); lookupErr == nil {
		kind = core.ChangeAlter
	}

	commit, err := cli.engine.Commit(context.Background(), cli.branch, []core.NormalizedChange{{
		Change:        kind,
		Path:          path,
		NewDefinition: definition,
	}}, fmt.Sprintf("%s %s", strings.ToLower(string(kind)), path))
	if err != nil {
		return err
	}
	fmt.Printf("%s✓ [%s] %s %s%s\n", SuccessColor, commit.Hash.Short(), kind, path, ResetColor)
	return nil
}

// objectPath derives the tracked path from a definition: the object name,
// prefixed with "public." when the statement names no schema.
func objectPath(definition string) (string, error) {
	if _, ok := sql.DetectKind(definition); !ok {
		return "", fmt.Errorf("only CREATE statements can be committed directly")
	}

	tokens := sql.NewLexer(definition).Tokens()
	// Skip CREATE plus modifiers until the kind keyword, then read the name.
	kindWords := map[string]bool{
		"table": true, "view": true, "index": true, "function": true,
		"procedure": true, "sequence": true, "trigger": true, "type": true,
		"domain": true,
	}
	for i, tok := range tokens {
		if tok.Type != sql.Word || !kindWords[strings.ToLower(tok.Value)] {
			continue
		}
		if i+1 >= len(tokens) || tokens[i+1].Type != sql.Word {
			break
		}
		// The lexer keeps dots inside words, so a schema-qualified name
		// arrives as one token.
		name := strings.ToLower(tokens[i+1].Value)
		if strings.Contains(name, ".") {
			return name, nil
		}
		return "public." + name, nil
	}
	return "", fmt.Errorf("cannot determine object name")
}

func (cli *CLI) handleCommand(input string) {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return
	}

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit", ".q":
		fmt.Printf("%sGoodbye!%s\n", SuccessColor, ResetColor)
		cli.saveHistory()
		os.Exit(0)

	case ".help", ".h", ".?":
		cli.printHelp()

	case ".branches":
		cli.showBranches()

	case ".branch":
		if len(parts) > 1 {
			cli.createBranch(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .branch <name>%s\n", ErrorColor, ResetColor)
		}

	case ".use":
		if len(parts) > 1 {
			cli.useBranch(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .use <branch>%s\n", ErrorColor, ResetColor)
		}

	case ".objects":
		cli.showObjects()

	case ".show":
		if len(parts) > 1 {
			cli.showObject(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .show <path>%s\n", ErrorColor, ResetColor)
		}

	case ".drop":
		if len(parts) > 1 {
			cli.dropObject(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .drop <path>%s\n", ErrorColor, ResetColor)
		}

	case ".log":
		cli.showLog()

	case ".diff":
		if len(parts) > 2 {
			cli.showDiff(parts[1], parts[2])
		} else {
			fmt.Printf("%s✗ Usage: .diff <from> <to>%s\n", ErrorColor, ResetColor)
		}

	case ".merge":
		if len(parts) > 1 {
			cli.merge(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .merge <source-branch>%s\n", ErrorColor, ResetColor)
		}

	case ".attempts":
		cli.showAttempts()

	case ".resolve":
		if len(parts) > 3 {
			content := ""
			if len(parts) > 4 {
				content = strings.Join(strings.Fields(input)[4:], " ")
			}
			cli.resolve(parts[1], parts[2], parts[3], content)
		} else {
			fmt.Printf("%s✗ Usage: .resolve <attempt> <conflict> <strategy> [content]%s\n", ErrorColor, ResetColor)
		}

	case ".complete":
		if len(parts) > 1 {
			cli.complete(parts[1])
		} else {
			fmt.Printf("%s✗ Usage: .complete <attempt>%s\n", ErrorColor, ResetColor)
		}

	case ".abort":
		if len(parts) > 1 {
			if err := cli.engine.AbortMerge(parts[1]); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			} else {
				fmt.Printf("%s✓ Attempt aborted%s\n", SuccessColor, ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .abort <attempt>%s\n", ErrorColor, ResetColor)
		}

	case ".gc":
		stats, err := cli.engine.Collect(context.Background())
		if err != nil {
			fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		} else {
			fmt.Printf("%s✓ Swept %d blobs, %d trees, %d commits%s\n",
				SuccessColor, stats.SweptBlobs, stats.SweptTrees, stats.SweptCommits, ResetColor)
		}

	case ".events":
		cli.showEvents()

	case ".import":
		if len(parts) > 1 {
			if err := cli.importFile(parts[1]); err != nil {
				fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
			}
		} else {
			fmt.Printf("%s✗ Usage: .import <file.sql>%s\n", ErrorColor, ResetColor)
		}

	case ".history":
		cli.printHistory()

	case ".clear", ".cls":
		fmt.Print("\033[H\033[2J")

	case ".version":
		fmt.Printf("pggit version %s\n", Version)

	default:
		fmt.Printf("%s✗ Unknown command: %s (type .help for commands)%s\n", ErrorColor, parts[0], ResetColor)
	}
}

func (cli *CLI) printHelp() {
	fmt.Println()
	fmt.Printf("%s%sCommands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Println("  .help, .h            Show this help message")
	fmt.Println("  .quit, .exit         Exit the CLI")
	fmt.Println("  .branches            List branches")
	fmt.Println("  .branch <name>       Create a branch at the current head")
	fmt.Println("  .use <branch>        Switch the working branch")
	fmt.Println("  .objects             List tracked objects on the branch")
	fmt.Println("  .show <path>         Print an object's definition")
	fmt.Println("  .drop <path>         Commit a drop of an object")
	fmt.Println("  .log                 Show recent commits")
	fmt.Println("  .diff <from> <to>    Diff two branches")
	fmt.Println("  .merge <source>      Merge a branch into the working branch")
	fmt.Println("  .attempts            List pending merge attempts")
	fmt.Println("  .resolve <a> <c> <s> Resolve a conflict (use_source/use_target/union/manual)")
	fmt.Println("  .complete <attempt>  Finish a resolved merge")
	fmt.Println("  .abort <attempt>     Abandon a pending merge")
	fmt.Println("  .gc                  Collect unreachable objects")
	fmt.Println("  .events              Show recent outbox events")
	fmt.Println("  .import <file>       Commit CREATE statements from a file")
	fmt.Println("  .history             Show command history")
	fmt.Println()
	fmt.Printf("%s%sAnything else:%s a CREATE statement ending in ';' is committed\n", BoldColor, PromptColor, ResetColor)
	fmt.Println("to the working branch (ALTER when the object already exists).")
	fmt.Println()
}

func (cli *CLI) showBranches() {
	branches, err := cli.engine.ListBranches()
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	for _, b := range branches {
		marker := " "
		if b.Name == cli.branch {
			marker = "*"
		}
		head := "(empty)"
		if !b.Head.IsZero() {
			head = b.Head.Short()
		}
		fmt.Printf("  %s %-20s %s\n", marker, b.Name, head)
	}
}

func (cli *CLI) createBranch(name string) {
	current, err := cli.engine.GetBranch(cli.branch)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	if _, err := cli.engine.CreateBranch(name, current.Head, cli.engine.Identity); err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Created branch %s%s\n", SuccessColor, name, ResetColor)
}

func (cli *CLI) useBranch(name string) {
	if _, err := cli.engine.GetBranch(name); err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	cli.branch = name
	fmt.Printf("%s✓ Using branch: %s%s\n", SuccessColor, name, ResetColor)
}

func (cli *CLI) showObjects() {
	tree, err := cli.engine.Snapshot(cli.branch)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	if len(tree.Entries) == 0 {
		fmt.Println("No tracked objects")
		return
	}
	for _, entry := range tree.Entries {
		fmt.Printf("  %-10s %-30s %s\n", entry.Kind, entry.Path, entry.Blob.Short())
	}
}

func (cli *CLI) showObject(path string) {
	definition, err := cli.engine.ObjectAt(cli.branch, path)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Println(definition)
}

func (cli *CLI) dropObject(path string) {
	commit, err := cli.engine.Commit(context.Background(), cli.branch, []core.NormalizedChange{{
		Change: core.ChangeDrop,
		Path:   path,
	}}, "drop "+path)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ [%s] DROP %s%s\n", SuccessColor, commit.Hash.Short(), path, ResetColor)
}

func (cli *CLI) showLog() {
	commits, err := cli.engine.History(context.Background(), cli.branch, core.ZeroHash, 20)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	for _, c := range commits {
		fmt.Printf("  %s  %s  %s  %s\n",
			c.Hash.Short(), c.When.Format("2006-01-02 15:04:05"), c.Author, truncate(c.Message, 50))
	}
}

func (cli *CLI) showDiff(from, to string) {
	changes, err := cli.engine.DiffBranches(from, to)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	if len(changes) == 0 {
		fmt.Println("No differences")
		return
	}
	for _, c := range changes {
		fmt.Printf("  %-8s %s\n", c.Diff, c.Path)
	}
}

func (cli *CLI) merge(source string) {
	result, err := cli.engine.Merge(context.Background(), source, cli.branch, op.MergeOptions{})
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	switch {
	case result.UpToDate:
		fmt.Printf("%s✓ Already up to date%s\n", SuccessColor, ResetColor)
	case result.FastForward:
		fmt.Printf("%s✓ Fast-forwarded to %s%s\n", SuccessColor, result.Commit.Short(), ResetColor)
	case result.Pending:
		fmt.Printf("%s✗ Merge halted on %d conflict(s), attempt %s%s\n",
			ErrorColor, len(result.Attempt.Conflicts), result.Attempt.ID, ResetColor)
		for _, c := range result.Attempt.Conflicts {
			fmt.Printf("    %s  %-15s %s\n", c.ID, c.Type, c.Path)
		}
	default:
		fmt.Printf("%s✓ Merged as %s%s\n", SuccessColor, result.Commit.Short(), ResetColor)
	}
}

func (cli *CLI) showAttempts() {
	attempts, err := cli.engine.ListAttempts()
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	if len(attempts) == 0 {
		fmt.Println("No pending merge attempts")
		return
	}
	for _, a := range attempts {
		fmt.Printf("  %s  %s -> %s  %d unresolved\n",
			a.ID, a.SourceBranch, a.TargetBranch, len(a.Unresolved()))
	}
}

func (cli *CLI) resolve(attemptID, conflictID, strategy, content string) {
	_, err := cli.engine.ResolveConflict(attemptID, op.Resolution{
		ConflictID: conflictID,
		Strategy:   core.ResolutionStrategy(strategy),
		Content:    content,
	})
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Conflict resolved with %s%s\n", SuccessColor, strategy, ResetColor)
}

func (cli *CLI) complete(attemptID string) {
	result, err := cli.engine.CompleteMerge(context.Background(), attemptID, "")
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	fmt.Printf("%s✓ Merged as %s%s\n", SuccessColor, result.Commit.Short(), ResetColor)
}

func (cli *CLI) showEvents() {
	events, err := cli.engine.Events(0, 0)
	if err != nil {
		fmt.Printf("%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		return
	}
	start := 0
	if len(events) > 20 {
		start = len(events) - 20
	}
	for _, e := range events[start:] {
		fmt.Printf("  %4d  %-16s %-12s %s\n", e.Seq, e.Kind, e.Branch, e.Commit.Short())
	}
}

func (cli *CLI) addToHistory(cmd string) {
	if len(cli.history) > 0 && cli.history[len(cli.history)-1] == cmd {
		return
	}
	cli.history = append(cli.history, cmd)
	if len(cli.history) > 1000 {
		cli.history = cli.history[len(cli.history)-1000:]
	}
}

func (cli *CLI) printHistory() {
	if len(cli.history) == 0 {
		fmt.Println("No command history")
		return
	}
	start := 0
	if len(cli.history) > 20 {
		start = len(cli.history) - 20
	}
	for i := start; i < len(cli.history); i++ {
		fmt.Printf("  %3d  %s\n", i+1, cli.history[i])
	}
}

func getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pggit_history")
}

func (cli *CLI) loadHistory() {
	if cli.historyFile == "" {
		return
	}
	file, err := os.Open(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		cli.history = append(cli.history, scanner.Text())
	}
}

func (cli *CLI) saveHistory() {
	if cli.historyFile == "" {
		return
	}
	file, err := os.Create(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	start := 0
	if len(cli.history) > 1000 {
		start = len(cli.history) - 1000
	}
	for i := start; i < len(cli.history); i++ {
		_, _ = file.WriteString(cli.history[i] + "\n")
	}
}

// importFile commits every CREATE statement in a file, one statement per
// commit.
func (cli *CLI) importFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	statements := splitStatements(string(data))
	successCount := 0
	errorCount := 0

	for i, stmt := range statements {
		if err := cli.commitStatement(stmt); err != nil {
			fmt.Printf("%s[%d] ✗ %s%s\n", ErrorColor, i+1, truncate(stmt, 50), ResetColor)
			fmt.Printf("      Error: %v\n", err)
			errorCount++
		} else {
			successCount++
		}
	}

	fmt.Printf("\n%s✓ Import complete: %d succeeded, %d failed%s\n",
		SuccessColor, successCount, errorCount, ResetColor)
	return nil
}

// splitStatements splits SQL content into individual statements.
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := byte(0)

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if (ch == '\'' || ch == '"') && (i == 0 || content[i-1] != '\\') {
			if !inString {
				inString = true
				stringChar = ch
			} else if ch == stringChar {
				inString = false
			}
		}

		if !inString && ch == '-' && i+1 < len(content) && content[i+1] == '-' {
			for i < len(content) && content[i] != '\n' {
				i++
			}
			continue
		}

		if !inString && ch == ';' {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}

		current.WriteByte(ch)
	}

	stmt := strings.TrimSpace(current.String())
	if stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// truncate shortens a string to max length with ellipsis.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
