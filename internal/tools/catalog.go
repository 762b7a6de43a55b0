package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/solsticehq/solstice/pkg/models"
)

// APIStats tracks call quality for a catalog entry.
type APIStats struct {
	TotalCalls   int      `json:"total_calls"`
	SuccessRate  *float64 `json:"success_rate"`
	AvgLatencyMS *float64 `json:"avg_latency_ms"`
	LastChecked  string   `json:"last_checked,omitempty"`
}

// APIEntry is one registered API in the catalog.
type APIEntry struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	AuthType    string   `json:"auth_type"`
	AuthToken   string   `json:"auth_token,omitempty"`
	Pricing     string   `json:"pricing"`
	Endpoints   int      `json:"endpoints_discovered"`
	AddedAt     string   `json:"added_at"`
	LastUsed    string   `json:"last_used,omitempty"`
	Stats       APIStats `json:"stats"`
}

// Catalog is a persistent registry of known APIs with keyword search and
// quality tracking. Stored at <dataRoot>/registry/catalog.json.
type Catalog struct {
	mu      sync.Mutex
	log     *slog.Logger
	path    string
	entries map[string]*APIEntry
}

// NewCatalog loads (or creates) the catalog under dataRoot.
func NewCatalog(dataRoot string) (*Catalog, error) {
	dir := filepath.Join(dataRoot, "registry")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	c := &Catalog{
		log:     slog.Default().With("component", "catalog"),
		path:    filepath.Join(dir, "catalog.json"),
		entries: map[string]*APIEntry{},
	}
	if data, err := os.ReadFile(c.path); err == nil {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			c.log.Warn("failed to load catalog, starting fresh", "error", err)
			c.entries = map[string]*APIEntry{}
		}
	}
	return c, nil
}

func (c *Catalog) save() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		c.log.Error("marshal catalog", "error", err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".tmp-*")
	if err != nil {
		c.log.Error("save catalog", "error", err)
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return
	}
	tmp.Close()
	if err := os.Rename(name, c.path); err != nil {
		os.Remove(name)
	}
}

func catalogKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// scoreMatch ranks an entry against a query. A zero score means no match.
func scoreMatch(entry *APIEntry, query, category string) float64 {
	score := 0.0
	q := strings.ToLower(strings.TrimSpace(query))
	words := map[string]bool{}
	for _, w := range strings.Fields(q) {
		words[w] = true
	}

	name := strings.ToLower(entry.Name)
	desc := strings.ToLower(entry.Description)
	cat := strings.ToLower(entry.Category)

	if category != "" {
		if cat != strings.ToLower(category) {
			return 0
		}
		score += 30
	}

	if q == name {
		score += 100
	} else if strings.Contains(name, q) || strings.Contains(q, name) {
		score += 50
	}

	for _, tag := range entry.Tags {
		tag = strings.ToLower(tag)
		if words[tag] || tag == q {
			score += 40
			continue
		}
		for w := range words {
			if strings.Contains(tag, w) || strings.Contains(w, tag) {
				score += 20
				break
			}
		}
	}

	descWords := map[string]bool{}
	for _, w := range strings.Fields(desc) {
		descWords[w] = true
	}
	overlap := 0
	for w := range words {
		if descWords[w] {
			overlap++
		}
	}
	score += float64(overlap) * 10

	if strings.Contains(desc, q) {
		score += 25
	}
	return score
}

func fmtPct(val *float64) string {
	if val == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *val*100)
}

func fmtMS(val *float64) string {
	if val == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0fms", *val)
}

// Register wires the registry_* tools.
func (c *Catalog) Register(r *Registry) {
	r.Register("registry_search", func(_ context.Context, args map[string]any) (string, error) {
		return c.search(stringArg(args, "query", ""), stringArg(args, "category", "")), nil
	}, models.ToolSchema{
		Name: "registry_search",
		Description: "Search the API catalog by capability. Describe what you need in plain English " +
			"(e.g. 'send SMS', 'geocoding') and get matching APIs ranked by relevance. Optionally filter by category.",
		Parameters: objSchema(map[string]any{
			"query":    map[string]any{"type": "string", "description": "What capability you need (e.g. 'SMS', 'weather data')"},
			"category": map[string]any{"type": "string", "description": "Filter by category (e.g. 'communication', 'maps'). Optional."},
		}, "query"),
	})

	r.Register("registry_add", func(_ context.Context, args map[string]any) (string, error) {
		return c.add(args), nil
	}, models.ToolSchema{
		Name: "registry_add",
		Description: "Register a new API in the catalog for future reuse. Provide the name, URL, description, " +
			"category, and comma-separated tags. Optionally include auth configuration and pricing.",
		Parameters: objSchema(map[string]any{
			"name":        map[string]any{"type": "string", "description": "Short name for the API (e.g. 'twilio', 'stripe')"},
			"url":         map[string]any{"type": "string", "description": "Base URL of the API"},
			"description": map[string]any{"type": "string", "description": "What the API does, in one sentence"},
			"category":    map[string]any{"type": "string", "description": "Category (e.g. communication, maps, weather, payments, ai, data)"},
			"tags":        map[string]any{"type": "string", "description": "Comma-separated tags for search (e.g. 'sms, voice, messaging')"},
			"auth_type": map[string]any{
				"type": "string", "enum": []any{"bearer", "basic", "api_key", "none"},
				"description": "Authentication type",
			},
			"auth_token": map[string]any{"type": "string", "description": "Auth token or API key"},
			"pricing": map[string]any{
				"type": "string", "enum": []any{"free", "freemium", "pay-per-use", "subscription"},
				"description": "Pricing model",
			},
		}, "name", "url", "description", "category", "tags"),
	})

	r.Register("registry_get", func(_ context.Context, args map[string]any) (string, error) {
		return c.get(stringArg(args, "name", "")), nil
	}, models.ToolSchema{
		Name:        "registry_get",
		Description: "Get full details on a specific API from the registry including its URL, auth configuration, and quality stats.",
		Parameters: objSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "Name of the API to look up"},
		}, "name"),
	})

	r.Register("registry_stats", func(_ context.Context, args map[string]any) (string, error) {
		return c.stats(stringArg(args, "name", "")), nil
	}, models.ToolSchema{
		Name:        "registry_stats",
		Description: "Report quality metrics for a registered API: average latency, success rate, total calls, and a health assessment.",
		Parameters: objSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "Name of the API to get stats for"},
		}, "name"),
	})

	r.Register("registry_remove", func(_ context.Context, args map[string]any) (string, error) {
		return c.remove(stringArg(args, "name", "")), nil
	}, models.ToolSchema{
		Name:        "registry_remove",
		Description: "Remove an API from the catalog.",
		Parameters: objSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "Name of the API to remove"},
		}, "name"),
	})
}

func (c *Catalog) search(query, category string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return "API registry is empty. Use registry_add to register APIs."
	}

	type match struct {
		score float64
		name  string
		entry *APIEntry
	}
	var matches []match
	for name, entry := range c.entries {
		if s := scoreMatch(entry, query, category); s > 0 {
			matches = append(matches, match{s, name, entry})
		}
	}

	if len(matches) == 0 {
		catSet := map[string]bool{}
		for _, e := range c.entries {
			cat := e.Category
			if cat == "" {
				cat = "uncategorized"
			}
			catSet[cat] = true
		}
		cats := make([]string, 0, len(catSet))
		for cat := range catSet {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		msg := fmt.Sprintf("No APIs match '%s'.", query)
		if category != "" {
			msg += fmt.Sprintf(" Category '%s' applied.", category)
		}
		return msg + fmt.Sprintf("\nAvailable categories: %s\nTotal APIs in registry: %d",
			strings.Join(cats, ", "), len(c.entries))
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].name < matches[j].name
	})

	top := matches
	if len(top) > 10 {
		top = top[:10]
	}
	lines := []string{fmt.Sprintf("Found %d API(s) matching '%s':", len(matches), query)}
	for rank, m := range top {
		tags := m.entry.Tags
		if len(tags) > 5 {
			tags = tags[:5]
		}
		successStr := ""
		if m.entry.Stats.SuccessRate != nil {
			successStr = fmt.Sprintf(", %.0f%% success", *m.entry.Stats.SuccessRate*100)
		}
		lines = append(lines, fmt.Sprintf("  %d. %s (%s) — %s\n     Tags: [%s] | Pricing: %s%s",
			rank+1, m.name, m.entry.Category, m.entry.Description,
			strings.Join(tags, ", "), m.entry.Pricing, successStr))
	}
	if len(matches) > 10 {
		lines = append(lines, fmt.Sprintf("  ... and %d more.", len(matches)-10))
	}
	return strings.Join(lines, "\n")
}

func (c *Catalog) add(args map[string]any) string {
	name := stringArg(args, "name", "")
	url := stringArg(args, "url", "")
	description := stringArg(args, "description", "")
	category := stringArg(args, "category", "")
	tags := stringArg(args, "tags", "")
	authType := stringArg(args, "auth_type", "")
	authToken := stringArg(args, "auth_token", "")
	pricing := stringArg(args, "pricing", "")

	key := catalogKey(name)
	if key == "" {
		return "Error: Empty API name"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return fmt.Sprintf("API '%s' already exists. Use registry_remove first to replace it.", key)
	}

	validAuth := map[string]bool{"bearer": true, "basic": true, "api_key": true, "none": true}
	if authType != "" && !validAuth[strings.ToLower(authType)] {
		return fmt.Sprintf("Invalid auth_type '%s'. Use: bearer, basic, api_key, or none.", authType)
	}

	var tagList []string
	for _, t := range strings.Split(tags, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tagList = append(tagList, t)
		}
	}

	if authType == "" {
		authType = "none"
	}
	if pricing == "" {
		pricing = "unknown"
	}
	c.entries[key] = &APIEntry{
		Name:        key,
		URL:         strings.TrimRight(url, "/"),
		Description: description,
		Category:    strings.ToLower(strings.TrimSpace(category)),
		Tags:        tagList,
		AuthType:    strings.ToLower(authType),
		AuthToken:   authToken,
		Pricing:     strings.ToLower(pricing),
		AddedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	c.save()
	return fmt.Sprintf("Registered '%s' (%s) in category '%s'. Tags: [%s]",
		key, url, category, strings.Join(tagList, ", "))
}

func (c *Catalog) get(name string) string {
	key := catalogKey(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		if suggestion := c.didYouMean(key); suggestion != "" {
			return fmt.Sprintf("API '%s' not found. Did you mean: %s?", name, suggestion)
		}
		return fmt.Sprintf("API '%s' not found. Use registry_search to find APIs.", name)
	}

	auth := entry.AuthType + " (no token)"
	if entry.AuthToken != "" {
		auth = entry.AuthType + " (token configured)"
	}
	lastUsed := entry.LastUsed
	if lastUsed == "" {
		lastUsed = "never"
	}
	lastChecked := entry.Stats.LastChecked
	if lastChecked == "" {
		lastChecked = "never"
	}
	added := entry.AddedAt
	if len(added) > 16 {
		added = added[:16]
	}
	return strings.Join([]string{
		fmt.Sprintf("API: %s", entry.Name),
		fmt.Sprintf("  URL: %s", entry.URL),
		fmt.Sprintf("  Description: %s", entry.Description),
		fmt.Sprintf("  Category: %s", entry.Category),
		fmt.Sprintf("  Tags: %s", strings.Join(entry.Tags, ", ")),
		fmt.Sprintf("  Auth: %s", auth),
		fmt.Sprintf("  Pricing: %s", entry.Pricing),
		fmt.Sprintf("  Endpoints discovered: %d", entry.Endpoints),
		fmt.Sprintf("  Added: %s", added),
		fmt.Sprintf("  Last used: %s", lastUsed),
		"  Stats:",
		fmt.Sprintf("    Total calls: %d", entry.Stats.TotalCalls),
		fmt.Sprintf("    Success rate: %s", fmtPct(entry.Stats.SuccessRate)),
		fmt.Sprintf("    Avg latency: %s", fmtMS(entry.Stats.AvgLatencyMS)),
		fmt.Sprintf("    Last checked: %s", lastChecked),
	}, "\n")
}

func (c *Catalog) didYouMean(key string) string {
	var matches []string
	for k := range c.entries {
		if strings.Contains(k, key) || strings.Contains(key, k) {
			matches = append(matches, k)
		}
	}
	sort.Strings(matches)
	return strings.Join(matches, ", ")
}

func (c *Catalog) stats(name string) string {
	key := catalogKey(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return fmt.Sprintf("API '%s' not found in registry.", name)
	}
	if entry.Stats.TotalCalls == 0 {
		return fmt.Sprintf("No usage data for '%s'. Connect to it to start tracking metrics.", key)
	}

	lastUsed := entry.LastUsed
	if lastUsed == "" {
		lastUsed = "never"
	}
	lastChecked := entry.Stats.LastChecked
	if lastChecked == "" {
		lastChecked = "never"
	}
	lines := []string{
		fmt.Sprintf("Quality report for '%s' (%s):", key, entry.URL),
		fmt.Sprintf("  Total API calls tracked: %d", entry.Stats.TotalCalls),
		fmt.Sprintf("  Success rate: %s", fmtPct(entry.Stats.SuccessRate)),
		fmt.Sprintf("  Average latency: %s", fmtMS(entry.Stats.AvgLatencyMS)),
		fmt.Sprintf("  Last checked: %s", lastChecked),
		fmt.Sprintf("  Last used: %s", lastUsed),
		fmt.Sprintf("  Endpoints discovered: %d", entry.Endpoints),
	}

	if rate := entry.Stats.SuccessRate; rate != nil {
		switch {
		case *rate >= 0.95:
			lines = append(lines, "  Health: EXCELLENT")
		case *rate >= 0.80:
			lines = append(lines, "  Health: GOOD")
		case *rate >= 0.50:
			lines = append(lines, "  Health: DEGRADED")
		default:
			lines = append(lines, "  Health: POOR")
		}
	}
	if lat := entry.Stats.AvgLatencyMS; lat != nil {
		switch {
		case *lat < 200:
			lines = append(lines, "  Speed: FAST")
		case *lat < 1000:
			lines = append(lines, "  Speed: NORMAL")
		default:
			lines = append(lines, "  Speed: SLOW")
		}
	}
	return strings.Join(lines, "\n")
}

func (c *Catalog) remove(name string) string {
	key := catalogKey(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return fmt.Sprintf("API '%s' not found in registry.", name)
	}
	delete(c.entries, key)
	c.save()
	return fmt.Sprintf("Removed '%s' (%s) from the registry.", key, entry.URL)
}
