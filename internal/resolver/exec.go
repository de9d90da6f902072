package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// commandRule pairs a command pattern with its fixture-backed handler.
// Irreversibility is declared on the rule, not derived from arguments.
type commandRule struct {
	name         string
	re           *regexp.Regexp
	irreversible bool
	handle       func(r *Resolver, m map[string]string, cmd string) map[string]any
}

// commandRules is evaluated top to bottom; the first matching rule wins.
// Order is load-bearing: specific patterns (read one message by id, modify
// one task by id) sit above the general ones (list everything) so the two
// never conflict. Keep new rules in that discipline.
var commandRules = []commandRule{
	{
		name: "mail_read",
		re:   regexp.MustCompile(`mail\s+(?:message\s+)?read\s+['"]?(?P<id>[A-Za-z0-9_.-]+)`),
		handle: func(r *Resolver, m map[string]string, _ string) map[string]any {
			rec, ok := r.lookupRecord("messages", m["id"])
			if !ok {
				return execFailure(fmt.Sprintf("message not found: %s", m["id"]))
			}
			text := fmt.Sprintf("From: %v\nSubject: %v\nDate: %v\n\n%v",
				rec["sender"], rec["subject"], rec["received_ts"], rec["body"])
			return execSuccess(text)
		},
	},
	{
		name: "mail_list",
		re:   regexp.MustCompile(`mail\s+(?:envelope\s+)?list`),
		handle: func(r *Resolver, _ map[string]string, _ string) map[string]any {
			summaries := make([]map[string]any, 0)
			for _, msg := range r.fixtures.Records("messages") {
				summaries = append(summaries, map[string]any{
					"id":      msg["id"],
					"sender":  msg["sender"],
					"subject": msg["subject"],
					"date":    msg["received_ts"],
					"flags":   msg["labels"],
				})
			}
			return execSuccess(mustJSON(summaries))
		},
	},
	{
		name: "mail_draft",
		re:   regexp.MustCompile(`mail\s+(?:message\s+write|template\s+write|draft)`),
		handle: func(_ *Resolver, _ map[string]string, cmd string) map[string]any {
			return execSuccess("Draft saved: " + stableID("draft", cmd))
		},
	},
	{
		name:         "mail_send",
		re:           regexp.MustCompile(`mail\s+(?:message\s+)?send`),
		irreversible: true,
		handle: func(_ *Resolver, _ map[string]string, _ string) map[string]any {
			return execSuccess("Message sent successfully")
		},
	},
	{
		name: "mail_archive",
		re:   regexp.MustCompile(`mail\s+flag\s+add`),
		handle: func(_ *Resolver, _ map[string]string, _ string) map[string]any {
			return execSuccess("Flag added successfully")
		},
	},
	{
		name:         "task_create",
		re:           regexp.MustCompile(`(?i)curl.*-X\s*POST.*tasks\.internal/v1/items`),
		irreversible: true,
		handle: func(_ *Resolver, _ map[string]string, cmd string) map[string]any {
			return execSuccess(mustJSON(map[string]any{
				"id":     stableID("item", cmd),
				"status": "created",
			}))
		},
	},
	{
		name: "task_update",
		re:   regexp.MustCompile(`(?i)curl.*-X\s*PATCH.*tasks\.internal/v1/items`),
		handle: func(_ *Resolver, _ map[string]string, _ string) map[string]any {
			return execSuccess(mustJSON(map[string]any{"status": "updated"}))
		},
	},
	{
		name: "task_get",
		re:   regexp.MustCompile(`(?i)curl.*tasks\.internal/v1/items/(?P<id>[A-Za-z0-9_-]+)`),
		handle: func(r *Resolver, m map[string]string, _ string) map[string]any {
			// Items live in either the tasks or documents collection.
			if rec, ok := r.lookupRecord("tasks", m["id"]); ok {
				return execSuccess(mustJSON(rec))
			}
			if rec, ok := r.lookupRecord("documents", m["id"]); ok {
				return execSuccess(mustJSON(rec))
			}
			return execFailure(fmt.Sprintf("item not found: %s", m["id"]))
		},
	},
	{
		name: "task_query",
		re:   regexp.MustCompile(`(?i)curl.*tasks\.internal/v1/boards/[^/\s]+/query`),
		handle: func(r *Resolver, _ map[string]string, _ string) map[string]any {
			return execSuccess(mustJSON(map[string]any{
				"results": r.fixtures.Records("tasks"),
			}))
		},
	},
	{
		name: "cal_agenda",
		re:   regexp.MustCompile(`(?i)cal\s+(agenda|list|search)`),
		handle: func(r *Resolver, _ map[string]string, _ string) map[string]any {
			return execSuccess(mustJSON(map[string]any{
				"items": r.fixtures.Records("events"),
			}))
		},
	},
	{
		name:         "cal_add",
		re:           regexp.MustCompile(`(?i)cal\s+(add|create)`),
		irreversible: true,
		handle: func(_ *Resolver, _ map[string]string, cmd string) map[string]any {
			return execSuccess(mustJSON(map[string]any{
				"id":     stableID("evt", cmd),
				"status": "confirmed",
			}))
		},
	},
	{
		name:         "cal_delete",
		re:           regexp.MustCompile(`(?i)cal\s+(delete|remove)`),
		irreversible: true,
		handle: func(_ *Resolver, _ map[string]string, _ string) map[string]any {
			return execSuccess("Event deleted")
		},
	},
}

// resolveCommand runs a free-form command string through the rule table.
// No match falls through to the flagged fallback so an unrecognized command
// never aborts the episode.
func (r *Resolver) resolveCommand(command string) Resolution {
	cmd := strings.TrimSpace(command)
	for _, rule := range commandRules {
		m := rule.re.FindStringSubmatch(cmd)
		if m == nil {
			continue
		}
		captures := make(map[string]string)
		for i, name := range rule.re.SubexpNames() {
			if name != "" && i < len(m) {
				captures[name] = strings.Trim(m[i], `'"`)
			}
		}
		return Resolution{
			Body:         rule.handle(r, captures, cmd),
			Irreversible: rule.irreversible,
		}
	}

	short := cmd
	if len(short) > 100 {
		short = short[:100]
	}
	return fallbackResolution(short)
}

// matchCommand reports which rule claims a command string, for rule-table
// tests and diagnostics.
func matchCommand(command string) (string, bool) {
	cmd := strings.TrimSpace(command)
	for _, rule := range commandRules {
		if rule.re.MatchString(cmd) {
			return rule.name, true
		}
	}
	return "", false
}

func (r *Resolver) lookupRecord(collection, id string) (map[string]any, bool) {
	v, ok := r.fixtures.Lookup(collection, id)
	if !ok {
		return nil, false
	}
	rec, ok := v.(map[string]any)
	return rec, ok
}

func execSuccess(output string) map[string]any {
	return map[string]any{
		"status":   "completed",
		"exitCode": 0,
		"output":   output,
	}
}

func execFailure(errMsg string) map[string]any {
	return map[string]any{
		"status":   "failed",
		"exitCode": 1,
		"output":   errMsg,
	}
}

func mustJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("(marshal error: %v)", err)
	}
	return string(raw)
}
