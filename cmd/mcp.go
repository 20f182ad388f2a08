package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"codemap/internal/retrieve"
	"codemap/internal/store"
	"codemap/internal/summarize"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing index retrieval tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	dbPath, err := s.dbPath()
	if err != nil {
		return err
	}
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	// Snippet-backed tools need the source tree; they degrade to soft
	// errors when the root cannot be resolved.
	var snip *retrieve.SnippetExtractor
	if root, err := sourceRoot(st, s); err == nil {
		snip = retrieve.NewSnippetExtractor(st, root)
	}

	backend, err := buildSummarizer(s)
	if err != nil {
		return err
	}

	srv := mcpserver.NewMCPServer("codemap", "1.0.0", mcpserver.WithToolCapabilities(false))

	srv.AddTool(lookupSymbolTool(), makeLookupHandler(st, snip))
	srv.AddTool(searchEntitiesTool(), makeSearchHandler(st))
	srv.AddTool(getSnippetTool(), makeSnippetHandler(st, snip))
	srv.AddTool(summarizeEntityTool(), makeSummarizeHandler(st, snip, backend))
	srv.AddTool(indexStatusTool(), makeStatusHandler(st, dbPath))

	return mcpserver.ServeStdio(srv)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

// summarize_entity writes a summary row but never destroys anything.
var summarizeAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(false),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func lookupSymbolTool() mcp.Tool {
	return mcp.NewTool("lookup_symbol",
		mcp.WithDescription("Resolve a symbol name to its best-matching entity. Exact fqnames win, then unique short names, then case-insensitive and fuzzy matches. Returns the entity with its summary and a short snippet."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Symbol name: fully qualified (pkg.mod.Class) or a bare short name (Class)"),
		),
	)
}

func searchEntitiesTool() mcp.Tool {
	return mcp.NewTool("search_entities",
		mcp.WithDescription("Full-text search over entity fqnames, signatures, docstrings, and summaries. Returns ranked entities with file locations."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text or keyword query"),
		),
		mcp.WithString("kinds",
			mcp.Description("Optional comma-separated kind filter: module, class, function, method, variable"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 10)"),
		),
	)
}

func getSnippetTool() mcp.Tool {
	return mcp.NewTool("get_snippet",
		mcp.WithDescription("Return the exact source text of an entity by fully qualified name. Fails if the source file changed since indexing; stale text is never returned."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("fqname",
			mcp.Required(),
			mcp.Description("Exact fully qualified name as indexed"),
		),
		mcp.WithNumber("max_lines",
			mcp.Description("Truncate the snippet to this many lines (default 220)"),
		),
	)
}

func summarizeEntityTool() mcp.Tool {
	return mcp.NewTool("summarize_entity",
		mcp.WithDescription("Generate and store a summary for the best-matching entity if it has none yet. Returns the stored summary either way."),
		mcp.WithToolAnnotation(summarizeAnnotation),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Symbol name; resolved the same way as lookup_symbol"),
		),
	)
}

func indexStatusTool() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Report index location, entity counts by kind, and when the index was last built."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handler factories ---

func makeLookupHandler(st store.Store, snip *retrieve.SnippetExtractor) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		if name == "" {
			return mcp.NewToolResultError("name is required"), nil
		}

		e, err := retrieve.NewResolver(st).Resolve(name)
		var amb *retrieve.AmbiguousError
		if errors.As(err, &amb) {
			return mcp.NewToolResultError(formatAmbiguous(amb)), nil
		}
		if errors.Is(err, retrieve.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no matches for %q — try search_entities for free-text queries", name)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		return mcp.NewToolResultText(formatEntityCard(e, snip)), nil
	}
}

func makeSearchHandler(st store.Store) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		kinds := parseKindsCSV(req.GetString("kinds", ""))

		results, err := retrieve.NewSearcher(st).Search(query, kinds, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return mcp.NewToolResultText(formatSearchResults(query, results)), nil
	}
}

func makeSnippetHandler(st store.Store, snip *retrieve.SnippetExtractor) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fqname := req.GetString("fqname", "")
		if fqname == "" {
			return mcp.NewToolResultError("fqname is required"), nil
		}
		if snip == nil {
			return mcp.NewToolResultError("source root unknown — pass --source-root or re-run 'codemap index <path>'"), nil
		}
		maxLines := req.GetInt("max_lines", 220)
		if maxLines <= 0 {
			maxLines = 220
		}

		e, err := st.EntityByFQName(fqname)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("snippet failed: %v", err)), nil
		}
		if e == nil {
			return mcp.NewToolResultError(fmt.Sprintf("no entity %q in index — use lookup_symbol or search_entities to find names", fqname)), nil
		}

		text, err := snip.Read(e)
		if errors.Is(err, retrieve.ErrStaleSnippet) || errors.Is(err, retrieve.ErrCorrupt) {
			return mcp.NewToolResultError(fmt.Sprintf("%v — run 'codemap index' to refresh the index", err)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("snippet failed: %v", err)), nil
		}

		return mcp.NewToolResultText(formatSnippet(e, text, maxLines)), nil
	}
}

func makeSummarizeHandler(st store.Store, snip *retrieve.SnippetExtractor, backend summarize.Summarizer) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		if name == "" {
			return mcp.NewToolResultError("name is required"), nil
		}

		e, err := retrieve.NewResolver(st).Resolve(name)
		var amb *retrieve.AmbiguousError
		if errors.As(err, &amb) {
			return mcp.NewToolResultError(formatAmbiguous(amb)), nil
		}
		if errors.Is(err, retrieve.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no matches for %q", name)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		if e.Summary != "" {
			return mcp.NewToolResultText(fmt.Sprintf("`%s` already has a summary (via %s):\n\n%s", e.FQName, e.SummaryBackend, e.Summary)), nil
		}
		if snip == nil {
			return mcp.NewToolResultError("source root unknown — pass --source-root or re-run 'codemap index <path>'"), nil
		}

		filler := summarize.NewFiller(st, snip, backend)
		summary, err := filler.FillOne(ctx, e, summarize.DefaultTimeout)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("summarize failed: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Generated summary for `%s` via %s:\n\n%s", e.FQName, backend.Name(), summary)), nil
	}
}

func makeStatusHandler(st store.Store, dbPath string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, err := st.Counts()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
		}
		root, _ := st.GetMeta("source_root")
		lastAt, _ := st.GetMeta("last_indexed_at")

		var sb strings.Builder
		sb.WriteString("## Index status\n\n")
		fmt.Fprintf(&sb, "**Database:** %s  \n", dbPath)
		if root != "" {
			fmt.Fprintf(&sb, "**Source root:** %s  \n", root)
		}
		if lastAt != "" {
			fmt.Fprintf(&sb, "**Last indexed:** %s  \n", lastAt)
		}
		fmt.Fprintf(&sb, "**Files:** %d  \n**Entities:** %d\n", counts.Files, counts.Entities)

		kinds := make([]string, 0, len(counts.ByKind))
		for k := range counts.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		if len(kinds) > 0 {
			sb.WriteString("\n")
			for _, k := range kinds {
				fmt.Fprintf(&sb, "- %s: %d\n", k, counts.ByKind[k])
			}
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

// --- Formatting helpers ---

func formatAmbiguous(amb *retrieve.AmbiguousError) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ambiguous name %q — %d candidates:\n", amb.Query, len(amb.Candidates))
	for _, c := range amb.Candidates {
		fmt.Fprintf(&sb, "- %s (%s)\n", c.FQName, c.Kind)
	}
	sb.WriteString("Retry with a fully qualified name.")
	return sb.String()
}

func formatEntityCard(e *store.Entity, snip *retrieve.SnippetExtractor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## `%s`\n\n", e.FQName)
	fmt.Fprintf(&sb, "**Kind:** %s  \n**File:** %s:%d-%d\n\n", e.Kind, e.SourcePath, e.StartLine, e.EndLine)
	if e.Signature != "" {
		fmt.Fprintf(&sb, "**Signature:** `%s`\n\n", e.Signature)
	}
	if e.Summary != "" {
		fmt.Fprintf(&sb, "%s\n\n", e.Summary)
	} else if e.Docstring != "" {
		fmt.Fprintf(&sb, "%s\n\n", e.Docstring)
	}
	if snip != nil {
		if text, err := snip.Read(e); err == nil {
			fmt.Fprintf(&sb, "```python\n%s\n```\n", headLines(text, lookupSnippetLines))
		}
	}
	return sb.String()
}

func formatSearchResults(query string, results []store.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d entities)\n\n", query, len(results))

	for i, r := range results {
		e := r.Entity
		fmt.Fprintf(&sb, "### %d. `%s`\n\n", i+1, e.FQName)
		fmt.Fprintf(&sb, "**Kind:** %s  \n**File:** %s:%d-%d  \n**Score:** %.1f\n\n",
			e.Kind, e.SourcePath, e.StartLine, e.EndLine, r.Score)
		if e.Signature != "" {
			fmt.Fprintf(&sb, "`%s`\n\n", e.Signature)
		}
		if line := firstLine(e.Summary); line != "" {
			fmt.Fprintf(&sb, "%s\n\n", line)
		}
	}

	return sb.String()
}

func formatSnippet(e *store.Entity, text string, maxLines int) string {
	lines := strings.Split(text, "\n")
	total := len(lines)
	truncated := total > maxLines
	if truncated {
		text = strings.Join(lines[:maxLines], "\n")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## `%s` (%s)\n\n%s:%d-%d\n\n", e.FQName, e.Kind, e.SourcePath, e.StartLine, e.EndLine)
	fmt.Fprintf(&sb, "```python\n%s\n```\n", text)
	if truncated {
		fmt.Fprintf(&sb, "\n_Showing first %d of %d lines._\n", maxLines, total)
	}
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
