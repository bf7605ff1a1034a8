package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rss_relay/internal/model"
)

// AddArgs holds the parsed arguments of /add.
type AddArgs struct {
	URL         string
	Kind        model.SourceKind
	Destination string
	Name        string
}

// ParseAddArgs parses arguments for /add.
// Format: <url> [-k kind] [-d destination] [name...]
func ParseAddArgs(args string) (AddArgs, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return AddArgs{}, errors.New("usage: /add <url> [-k kind] [-d destination] [name]")
	}

	out := AddArgs{URL: parts[0]}
	rest := parts[1:]
	for len(rest) > 0 && (rest[0] == "-k" || rest[0] == "-d") {
		if len(rest) < 2 {
			return AddArgs{}, fmt.Errorf("flag %s needs a value", rest[0])
		}
		switch rest[0] {
		case "-k":
			kind := model.SourceKind(strings.ToLower(rest[1]))
			if !kind.Valid() {
				return AddArgs{}, fmt.Errorf("invalid kind %q, use: web, rss, youtube, facebook, instagram, tiktok", rest[1])
			}
			out.Kind = kind
		case "-d":
			out.Destination = rest[1]
		}
		rest = rest[2:]
	}
	out.Name = strings.Join(rest, " ")
	return out, nil
}

// ParseIDArg extracts a feed ID or ID prefix from a command argument string.
func ParseIDArg(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", errors.New("feed ID is required")
	}
	return parts[0], nil
}

// ParseRenameArgs extracts a feed ID and new name from command arguments.
func ParseRenameArgs(args string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(parts) < 2 {
		return "", "", errors.New("usage: /rename <id> <new_name>")
	}
	name := strings.TrimSpace(parts[1])
	if name == "" {
		return "", "", errors.New("new name cannot be empty")
	}
	return parts[0], name, nil
}

// ParseIntervalArgs extracts a feed ID and interval in seconds.
func ParseIntervalArgs(args string) (string, int, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return "", 0, errors.New("usage: /interval <id> <seconds>")
	}
	secs, err := strconv.Atoi(parts[1])
	if err != nil || secs < 1 {
		return "", 0, fmt.Errorf("invalid interval %q, use a number of seconds", parts[1])
	}
	return parts[0], secs, nil
}

// SetArgs holds the parsed arguments of /set.
type SetArgs struct {
	FeedID string
	Field  string
	Value  string
}

// ParseSetArgs parses arguments for /set.
// Format: <id> <field> <value...>
func ParseSetArgs(args string) (SetArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 3 {
		return SetArgs{}, errors.New("usage: /set <id> <field> <value>")
	}
	rest := strings.TrimSpace(args)
	for range 2 {
		rest = strings.TrimSpace(rest[strings.IndexAny(rest, " \t\n")+1:])
	}
	return SetArgs{FeedID: parts[0], Field: strings.ToLower(parts[1]), Value: rest}, nil
}

// SettingFields lists the fields accepted by /set.
var SettingFields = []string{
	"include", "exclude", "include_re", "exclude_re", "allow", "deny", "lang", "quiet",
	"template", "mention_user", "mention_role", "mode", "embeds", "max_per_run", "daily_cap",
	"dedup_hours", "category", "dest", "url", "kind",
}

// ApplySetting sets one field of f from its textual value. "-" clears list
// and optional text fields.
func ApplySetting(f *model.Feed, field, value string) error {
	value = strings.TrimSpace(value)

	switch field {
	case "include":
		f.Filters.IncludeKeywords = splitList(value)
	case "exclude":
		f.Filters.ExcludeKeywords = splitList(value)
	case "include_re":
		f.Filters.IncludeRegex = splitPatterns(value)
	case "exclude_re":
		f.Filters.ExcludeRegex = splitPatterns(value)
	case "allow":
		f.Filters.DomainAllow = splitList(value)
	case "deny":
		f.Filters.DomainDeny = splitList(value)
	case "lang":
		f.Filters.Language = optional(value)
	case "quiet":
		if value == "-" {
			f.Filters.QuietHoursStart, f.Filters.QuietHoursEnd = "", ""
			return nil
		}
		start, end, ok := strings.Cut(value, "-")
		if !ok {
			return errors.New("quiet hours must look like 22:00-07:00")
		}
		f.Filters.QuietHoursStart, f.Filters.QuietHoursEnd = strings.TrimSpace(start), strings.TrimSpace(end)
	case "template":
		f.MessageTemplate = strings.ReplaceAll(optional(value), `\n`, "\n")
	case "mention_user":
		f.MentionUser = optional(value)
	case "mention_role":
		f.MentionRole = optional(value)
	case "mode":
		f.Mode = model.Mode(strings.ToLower(value))
	case "embeds":
		on, err := ParseSwitch(value)
		if err != nil {
			return err
		}
		f.AllowEmbeds = on
	case "max_per_run", "daily_cap", "dedup_hours":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be a number", field)
		}
		switch field {
		case "max_per_run":
			f.MaxPerRun = n
		case "daily_cap":
			f.DailyCap = n
		default:
			f.DedupWindowHours = n
		}
	case "category":
		f.Category = optional(value)
	case "dest":
		f.Destination = value
	case "url":
		f.URL = value
	case "kind":
		f.SourceKind = model.SourceKind(strings.ToLower(value))
	default:
		return fmt.Errorf("unknown field %q, use one of: %s", field, strings.Join(SettingFields, ", "))
	}
	return nil
}

// ParseSwitch parses an on/off style argument.
func ParseSwitch(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", v)
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(v string) []string {
	if v == "-" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitPatterns splits whitespace-separated regular expressions; commas are
// legal inside patterns.
func splitPatterns(v string) []string {
	if v == "-" {
		return nil
	}
	return strings.Fields(v)
}

func optional(v string) string {
	if v == "-" {
		return ""
	}
	return v
}
