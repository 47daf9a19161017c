package router

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-router/internal/knx"
	"github.com/nerrad567/gray-logic-router/internal/knxnetip"
	"github.com/nerrad567/gray-logic-router/internal/routing"
)

// ParseFilterTable parses group addresses in "main/middle/sub" notation
// into a filter table. An empty list yields an empty table.
func ParseFilterTable(addrs []string) (routing.FilterTable, error) {
	parsed := make([]knx.GroupAddress, 0, len(addrs))
	for _, s := range addrs {
		ga, err := knx.ParseGroupAddress(strings.TrimSpace(s))
		if err != nil {
			return routing.FilterTable{}, fmt.Errorf("filter table entry %q: %w", s, err)
		}
		parsed = append(parsed, ga)
	}
	return routing.NewFilterTable(parsed...), nil
}

// FormatFilterTable renders a filter table as sorted address strings.
func FormatFilterTable(table routing.FilterTable) []string {
	addrs := table.Addresses()
	out := make([]string, len(addrs))
	for i, ga := range addrs {
		out[i] = ga.String()
	}
	return out
}

// ParseCEMI decodes a hex encoded cEMI L_Data message. Spaces are ignored.
func ParseCEMI(s string) (knxnetip.LData, error) {
	raw, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return knxnetip.LData{}, fmt.Errorf("%w: cemi is not hex: %w", ErrInvalidParameters, err)
	}
	ldata, err := knxnetip.ParseLData(raw)
	if err != nil {
		return knxnetip.LData{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return ldata, nil
}

// ldataParameter extracts the "cemi" command parameter.
func ldataParameter(params map[string]any) (knxnetip.LData, error) {
	v, ok := params["cemi"]
	if !ok {
		return knxnetip.LData{}, fmt.Errorf("%w: cemi is required", ErrInvalidParameters)
	}
	s, ok := v.(string)
	if !ok {
		return knxnetip.LData{}, fmt.Errorf("%w: cemi must be a hex string", ErrInvalidParameters)
	}
	return ParseCEMI(s)
}
