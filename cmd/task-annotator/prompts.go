package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// loadInstructionFile reads a replacement instruction. The answer trigger and query blocks are
// still appended by the prompt assembler, so the file holds only the opening instruction.
func loadInstructionFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("instruction-file is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read instruction-file: %w", err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", errors.New("instruction-file is empty after trimming whitespace")
	}
	return s, nil
}
