package lineparser

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

type countingVisitor struct {
	lines int64
	bytes int64
}

func (v *countingVisitor) VisitLine(offset, lineNo int64, line []byte) error {
	v.lines++
	v.bytes += int64(len(line))
	return nil
}

func benchLog(lines int) []byte {
	var sb strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&sb, "host%d - - GET /api/resource/%d 200 %d\n", i, i%977, i*37%100000)
	}
	return []byte(sb.String())
}

func BenchmarkParse(b *testing.B) {
	data := benchLog(100000)
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := NewParser()
		v := &countingVisitor{}
		if err := p.Parse(bytes.NewReader(data), v); err != nil {
			b.Fatal(err)
		}
		if v.lines != 100000 {
			b.Fatalf("parsed %d lines", v.lines)
		}
	}
}

func BenchmarkParseLongLines(b *testing.B) {
	line := strings.Repeat("x", 32*1024) + "\n"
	data := []byte(strings.Repeat(line, 256))
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := NewParser()
		if err := p.Parse(bytes.NewReader(data), &countingVisitor{}); err != nil {
			b.Fatal(err)
		}
	}
}
