package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/intexuraos/code-dispatch/internal/domain"
)

// ParseError describes one malformed worker pool entry
type ParseError struct {
	Entry  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("worker pool entry %q: %s", e.Entry, e.Reason)
}

// ParseWorkerPool parses a comma-separated list of location:url:priority
// triples into worker configs sorted ascending by priority. The URL part may
// itself contain colons, so the entry is split from both ends: location is
// everything before the first colon, priority everything after the last.
//
// Returns the parsed workers plus one ParseError per malformed entry; the
// caller decides whether malformed entries are fatal.
func ParseWorkerPool(spec string) ([]domain.WorkerConfig, []*ParseError) {
	var workers []domain.WorkerConfig
	var errs []*ParseError

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		first := strings.Index(entry, ":")
		last := strings.LastIndex(entry, ":")
		if first < 0 || first == last {
			errs = append(errs, &ParseError{Entry: entry, Reason: "expected location:url:priority"})
			continue
		}

		location := entry[:first]
		rawURL := entry[first+1 : last]
		rawPriority := entry[last+1:]

		if location == "" {
			errs = append(errs, &ParseError{Entry: entry, Reason: "empty location"})
			continue
		}

		u, err := url.Parse(rawURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ParseError{Entry: entry, Reason: fmt.Sprintf("invalid base URL %q", rawURL)})
			continue
		}

		priority, err := strconv.Atoi(rawPriority)
		if err != nil {
			errs = append(errs, &ParseError{Entry: entry, Reason: fmt.Sprintf("invalid priority %q", rawPriority)})
			continue
		}

		workers = append(workers, domain.WorkerConfig{
			Location: domain.WorkerLocation(location),
			BaseURL:  strings.TrimRight(rawURL, "/"),
			Priority: priority,
		})
	}

	sort.SliceStable(workers, func(i, j int) bool {
		return workers[i].Priority < workers[j].Priority
	})

	return workers, errs
}
