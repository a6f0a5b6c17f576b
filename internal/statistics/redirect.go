package statistics

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// DumpInterval is how often the aggregated records are written out.
const DumpInterval = 5 * time.Second

type RedirectRecordList struct {
	recordAddChan chan *RedirectRecord
	records       map[string]*RedirectRecord
	mu            sync.RWMutex

	dumpFile   string
	dumpWriter *bufio.Writer
}

// RedirectRecord aggregates the redirects of one registrable domain.
// Origin and Target hold the most recent pair.
type RedirectRecord struct {
	Domain string
	Count  int
	Origin string
	Target string
}

func NewRedirectRecordList(dumpFile string) *RedirectRecordList {
	return &RedirectRecordList{
		recordAddChan: make(chan *RedirectRecord, 100),
		records:       make(map[string]*RedirectRecord, 300),
		mu:            sync.RWMutex{},
		dumpFile:      dumpFile,
		dumpWriter:    bufio.NewWriter(nil),
	}
}

// Run aggregates queued records and dumps them every DumpInterval until
// done is closed. A final dump is written on exit.
func (l *RedirectRecordList) Run(done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(DumpInterval)
		defer ticker.Stop()

		for {
			select {
			case record := <-l.recordAddChan:
				l.Add(record)
			case <-ticker.C:
				l.Dump()
			case <-done:
				l.Dump()
				return
			}
		}
	}()
}

// Record queues a redirect without blocking. Records are dropped when the
// queue is full.
func (l *RedirectRecordList) Record(origin, target string) {
	select {
	case l.recordAddChan <- &RedirectRecord{Domain: Domain(origin), Origin: origin, Target: target}:
	default:
	}
}

func (l *RedirectRecordList) Add(record *RedirectRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, exists := l.records[record.Domain]; exists {
		r.Count++
		r.Origin = record.Origin
		r.Target = record.Target
	} else {
		l.records[record.Domain] = &RedirectRecord{
			Domain: record.Domain,
			Count:  1,
			Origin: record.Origin,
			Target: record.Target,
		}
	}
}

// Records returns a copy of the aggregated records, highest count first.
func (l *RedirectRecordList) Records() []RedirectRecord {
	l.mu.RLock()
	out := make([]RedirectRecord, 0, len(l.records))
	for _, record := range l.records {
		out = append(out, *record)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// Dump rewrites the dump file, one "domain count origin target" line per
// record, highest count first.
func (l *RedirectRecordList) Dump() {
	if l.dumpFile == "" {
		return
	}
	f, err := os.Create(l.dumpFile)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	l.dumpWriter.Reset(f)
	for _, record := range l.Records() {
		if _, err := fmt.Fprintf(l.dumpWriter, "%s %d %s %s\n",
			record.Domain, record.Count, record.Origin, record.Target); err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
			return
		}
	}
	if err := l.dumpWriter.Flush(); err != nil {
		slog.Error("bufio.Writer.Flush", slog.Any("error", err))
	}
}

// Domain returns the registrable domain of rawURL's host, falling back to
// the bare host for addresses and single-label names.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}
