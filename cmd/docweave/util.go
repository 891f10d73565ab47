package main

import (
	"fmt"
	"io"

	"github.com/dgallion1/docweave/internal/detect"
)

func readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

func parseHint(s string) (detect.Format, error) {
	f, ok := detect.ParseFormat(s)
	if !ok {
		return "", fmt.Errorf("unknown format %q", s)
	}
	return f, nil
}
