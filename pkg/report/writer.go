// Package report makes cli output: tenant-tagged, colorized lines with secrets masked, and yaml rendering
// of query results keeping column order.
package report

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"regexp"
	"sync"

	"github.com/fatih/color"
)

// Writer prefixes each line with tenant name, colors it by tenant and masks secrets.
// Writers made by WithTenant share the lock, so lines from parallel tenants are never mixed.
type Writer struct {
	wr         io.Writer
	tenant     string
	monochrome bool
	masks      []*regexp.Regexp
	mu         *sync.Mutex
}

var tenantColors = []color.Attribute{
	color.FgHiGreen, color.FgHiYellow, color.FgHiBlue, color.FgHiMagenta, color.FgHiCyan,
	color.FgGreen, color.FgYellow, color.FgBlue, color.FgMagenta, color.FgCyan,
}

// NewWriter makes Writer for wr. Empty and blank secrets are ignored.
func NewWriter(wr io.Writer, monochrome bool, secrets []string) *Writer {
	res := &Writer{wr: wr, monochrome: monochrome, mu: &sync.Mutex{}}
	for _, s := range secrets {
		if s == "" || s == " " {
			continue
		}
		// match whole words only
		res.masks = append(res.masks, regexp.MustCompile(`\b`+regexp.QuoteMeta(s)+`\b`))
	}
	return res
}

// WithTenant returns Writer tagging lines with the tenant
func (w *Writer) WithTenant(tenant string) *Writer {
	return &Writer{wr: w.wr, tenant: tenant, monochrome: w.monochrome, masks: w.masks, mu: w.mu}
}

// Printf formats and writes
func (w *Writer) Printf(format string, v ...any) {
	fmt.Fprintf(w, format, v...) // nolint
}

// Write writes each line of p, newline added to the last one if missing
func (w *Writer) Write(p []byte) (n int, err error) {
	buf := bytes.Buffer{}
	colorize := w.colorizer()
	scanner := bufio.NewScanner(bytes.NewReader(p))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := w.mask(scanner.Text())
		if w.tenant != "" {
			line = "[" + w.tenant + "] " + line
		}
		buf.WriteString(colorize("%s", line))
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.wr.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *Writer) mask(s string) string {
	for _, re := range w.masks {
		s = re.ReplaceAllString(s, "****")
	}
	return s
}

func (w *Writer) colorizer() func(format string, a ...any) string {
	if w.monochrome || w.tenant == "" {
		return fmt.Sprintf
	}
	c := tenantColors[crc32.ChecksumIEEE([]byte(w.tenant))%uint32(len(tenantColors))]
	return color.New(c).SprintfFunc()
}
