package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/harun/workbench/pkg/tools/plugin"
)

const textParams = `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`

type textArgs struct {
	Text string `json:"text"`
}

type textutil struct{}

func (textutil) Describe() ([]plugin.FunctionSpec, error) {
	return []plugin.FunctionSpec{
		{Name: "word_count", Description: "Count the words in text", Parameters: textParams},
		{Name: "char_count", Description: "Count the characters in text", Parameters: textParams},
		{Name: "upper", Description: "Upper-case text", Parameters: textParams},
	}, nil
}

func (textutil) Invoke(name string, args []byte) (string, error) {
	var in textArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	switch name {
	case "word_count":
		return fmt.Sprint(len(strings.Fields(in.Text))), nil
	case "char_count":
		return fmt.Sprint(utf8.RuneCountInString(in.Text)), nil
	case "upper":
		return strings.ToUpper(in.Text), nil
	default:
		return "", fmt.Errorf("unknown function %q", name)
	}
}
