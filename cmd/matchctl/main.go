package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "overview":
		runOverview(os.Args[2:])
	case "matches":
		runMatches(os.Args[2:])
	case "respond":
		runRespond(os.Args[2:])
	case "queue":
		runQueue(os.Args[2:])
	case "sweep":
		runSweep(os.Args[2:])
	case "events":
		runEvents(os.Args[2:])
	case "preferences":
		runPreferences(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: matchctl <overview|matches|respond|queue|sweep|events|preferences> [...]")
}

func runOverview(args []string) {
	fs := flag.NewFlagSet("overview", flag.ExitOnError)
	base := baseFlag(fs)
	token := tokenFlag(fs)
	worker := fs.String("worker", "", "worker id")
	_ = fs.Parse(args)
	if *worker == "" {
		fatalf("--worker is required")
	}
	doRequest(http.MethodGet, *base+"/v1/auto-match/workers/"+url.PathEscape(*worker)+"/overview", *token, nil)
}

func runMatches(args []string) {
	fs := flag.NewFlagSet("matches", flag.ExitOnError)
	base := baseFlag(fs)
	token := tokenFlag(fs)
	worker := fs.String("worker", "", "worker id")
	status := fs.String("status", "", "comma-separated status filter")
	offset := fs.Int("offset", 0, "page offset")
	limit := fs.Int("limit", 20, "page size")
	_ = fs.Parse(args)
	if *worker == "" {
		fatalf("--worker is required")
	}
	q := url.Values{}
	if *status != "" {
		q.Set("status", *status)
	}
	if *offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", *offset))
	}
	q.Set("limit", fmt.Sprintf("%d", *limit))
	doRequest(http.MethodGet, *base+"/v1/auto-match/workers/"+url.PathEscape(*worker)+"/matches?"+q.Encode(), *token, nil)
}

func runRespond(args []string) {
	fs := flag.NewFlagSet("respond", flag.ExitOnError)
	base := baseFlag(fs)
	token := tokenFlag(fs)
	entry := fs.String("entry", "", "queue entry id")
	status := fs.String("status", "", "accepted|declined|expired|reassigned")
	rating := fs.Float64("rating", 0, "optional rating for the worker")
	completionValue := fs.Float64("completion-value", 0, "optional completed value")
	reason := fs.String("reason", "", "optional reason code")
	notes := fs.String("notes", "", "optional notes")
	_ = fs.Parse(args)
	if *entry == "" || *status == "" {
		fatalf("--entry and --status are required")
	}
	body := map[string]any{"status": strings.ToLower(*status)}
	if *rating > 0 {
		body["rating"] = *rating
	}
	if *completionValue > 0 {
		body["completion_value"] = *completionValue
	}
	if *reason != "" {
		body["reason_code"] = *reason
	}
	if *notes != "" {
		body["notes"] = *notes
	}
	doRequest(http.MethodPost, *base+"/v1/auto-match/entries/"+url.PathEscape(*entry)+"/respond", *token, body)
}

func runQueue(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: matchctl queue <build|show> [...]")
		os.Exit(1)
	}
	switch args[0] {
	case "build":
		runQueueBuild(args[1:])
	case "show":
		runQueueShow(args[1:])
	default:
		fmt.Fprintln(os.Stderr, "usage: matchctl queue <build|show> [...]")
		os.Exit(1)
	}
}

func runQueueBuild(args []string) {
	fs := flag.NewFlagSet("queue build", flag.ExitOnError)
	base := baseFlag(fs)
	token := tokenFlag(fs)
	workItem := fs.String("work-item", "", "work item id")
	value := fs.Float64("value", 0, "work item value")
	category := fs.String("category", "", "work item category")
	candidates := fs.String("candidates", "", "comma-separated worker ids")
	_ = fs.Parse(args)
	if *workItem == "" {
		fatalf("--work-item is required")
	}
	ids := make([]string, 0, 8)
	for _, c := range strings.Split(*candidates, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			ids = append(ids, c)
		}
	}
	body := map[string]any{
		"work_item_value": *value,
		"candidates":      ids,
	}
	if *category != "" {
		body["category"] = *category
	}
	doRequest(http.MethodPost, *base+"/v1/auto-match/work-items/"+url.PathEscape(*workItem)+"/queue", *token, body)
}

func runQueueShow(args []string) {
	fs := flag.NewFlagSet("queue show", flag.ExitOnError)
	base := baseFlag(fs)
	token := tokenFlag(fs)
	workItem := fs.String("work-item", "", "work item id")
	_ = fs.Parse(args)
	if *workItem == "" {
		fatalf("--work-item is required")
	}
	doRequest(http.MethodGet, *base+"/v1/auto-match/work-items/"+url.PathEscape(*workItem)+"/queue", *token, nil)
}

func runSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	base := baseFlag(fs)
	token := tokenFlag(fs)
	_ = fs.Parse(args)
	doRequest(http.MethodPost, *base+"/v1/auto-match/sweep", *token, nil)
}

func runEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	base := baseFlag(fs)
	token := tokenFlag(fs)
	eventType := fs.String("type", "", "event type filter")
	worker := fs.String("worker", "", "worker id filter")
	workItem := fs.String("work-item", "", "work item id filter")
	limit := fs.Int("limit", 100, "max events")
	_ = fs.Parse(args)
	q := url.Values{}
	if *eventType != "" {
		q.Set("event_type", *eventType)
	}
	if *worker != "" {
		q.Set("worker_id", *worker)
	}
	if *workItem != "" {
		q.Set("work_item_id", *workItem)
	}
	q.Set("limit", fmt.Sprintf("%d", *limit))
	doRequest(http.MethodGet, *base+"/v1/admin/events?"+q.Encode(), *token, nil)
}

func runPreferences(args []string) {
	fs := flag.NewFlagSet("preferences", flag.ExitOnError)
	base := baseFlag(fs)
	token := tokenFlag(fs)
	worker := fs.String("worker", "", "worker id")
	enable := fs.String("enabled", "", "true|false to toggle automatch")
	minBudget := fs.Float64("min-budget", -1, "minimum item value")
	maxBudget := fs.Float64("max-budget", -1, "maximum item value")
	cap := fs.Int("cap", -1, "concurrency cap")
	excluded := fs.String("excluded", "", "comma-separated excluded categories")
	_ = fs.Parse(args)
	if *worker == "" {
		fatalf("--worker is required")
	}

	body := map[string]any{}
	switch strings.ToLower(strings.TrimSpace(*enable)) {
	case "true":
		body["enabled"] = true
	case "false":
		body["enabled"] = false
	case "":
	default:
		fatalf("--enabled must be true or false")
	}
	if *minBudget >= 0 {
		body["min_budget"] = *minBudget
	}
	if *maxBudget >= 0 {
		body["max_budget"] = *maxBudget
	}
	if *cap >= 0 {
		body["concurrency_cap"] = *cap
	}
	if *excluded != "" {
		cats := make([]string, 0, 4)
		for _, c := range strings.Split(*excluded, ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				cats = append(cats, c)
			}
		}
		body["excluded_categories"] = cats
	}
	path := *base + "/v1/auto-match/workers/" + url.PathEscape(*worker) + "/preferences"
	if len(body) == 0 {
		doRequest(http.MethodGet, path, *token, nil)
		return
	}
	doRequest(http.MethodPatch, path, *token, body)
}

func baseFlag(fs *flag.FlagSet) *string {
	base := os.Getenv("AUTOMATCH_URL")
	if base == "" {
		base = "http://127.0.0.1:8080"
	}
	return fs.String("url", base, "dispatcher base URL")
}

func tokenFlag(fs *flag.FlagSet) *string {
	return fs.String("token", os.Getenv("AUTOMATCH_TOKEN"), "API bearer token")
}

func doRequest(method, target, token string, body any) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		fatalf("read response: %v", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, payload, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(strings.TrimSpace(string(payload)))
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
