package prometheus

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lrgov/fleetauth"
	"github.com/lrgov/fleetauth/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Source is what the exporter reads on every scrape. *fleetauth.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() fleetauth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter serves a Source in Prometheus text exposition format.
type Exporter struct {
	source Source
}

// New returns an exporter for source.
func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler returns the exporter as an http.Handler.
func (x *Exporter) Handler() http.Handler {
	return x
}

func (x *Exporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", contentType)
	_, _ = x.WriteTo(w)
}

// Render returns the exposition as a string. It is empty when nothing has
// been recorded yet.
func (x *Exporter) Render() string {
	var buf bytes.Buffer
	_, _ = x.WriteTo(&buf)
	return buf.String()
}

// WriteTo writes one scrape to w.
func (x *Exporter) WriteTo(w io.Writer) (int64, error) {
	if x == nil || x.source == nil {
		return 0, nil
	}

	snap := x.source.MetricsSnapshot()
	dropped := x.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return 0, nil
	}

	cw := &countingWriter{w: bufio.NewWriterSize(w, 4096)}
	for _, def := range internaldefs.CounterDefs {
		counter(cw, def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
		histogram(cw, def.Name, def.Help, buckets)
	}
	counter(cw, "fleetauth_audit_mirror_dropped_total",
		"Persisted audit events the mirror sinks dropped under backpressure.", dropped)

	if cw.err == nil {
		cw.err = cw.w.Flush()
	}
	return cw.n, cw.err
}

func header(w *countingWriter, name, help, kind string) {
	w.printf("# HELP %s %s\n# TYPE %s %s\n", name, helpEscaper.Replace(help), name, kind)
}

func counter(w *countingWriter, name, help string, v uint64) {
	header(w, name, help, "counter")
	w.printf("%s %d\n", name, v)
}

// histogram writes cumulative buckets. Snapshots carry no observation sum,
// so _sum is always zero.
func histogram(w *countingWriter, name, help string, cumulative [8]uint64) {
	header(w, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		w.printf("%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	w.printf("%s_sum 0\n%s_count %d\n", name, name, cumulative[len(cumulative)-1])
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

// countingWriter keeps the first write error and the byte total so the
// render helpers stay free of error plumbing.
type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) printf(format string, args ...interface{}) {
	if c.err != nil {
		return
	}
	n, err := fmt.Fprintf(c.w, format, args...)
	c.n += int64(n)
	c.err = err
}
