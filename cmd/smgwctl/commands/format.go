// Package commands implements the smgwctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// listenerView is the CLI rendering of a listener snapshot.
type listenerView struct {
	Addr         string              `json:"addr"                    yaml:"addr"`
	LocalAddr    string              `json:"local_addr"              yaml:"local_addr"`
	State        string              `json:"state"                   yaml:"state"`
	Counter      int                 `json:"counter"                 yaml:"counter"`
	Threshold    int                 `json:"threshold"               yaml:"threshold"`
	Timespan     string              `json:"timespan"                yaml:"timespan"`
	LastActivity string              `json:"last_activity,omitempty" yaml:"last_activity,omitempty"`
	Format       string              `json:"format"                  yaml:"format"`
	MaxSize      int                 `json:"max_size"                yaml:"max_size"`
	Senders      []string            `json:"senders"                 yaml:"senders"`
	Recipients   map[string][]string `json:"recipients"              yaml:"recipients"`
}

// listenersFromStruct decodes a ListListeners response.
func listenersFromStruct(msg *structpb.Struct) []listenerView {
	values := msg.GetFields()["listeners"].GetListValue().GetValues()
	views := make([]listenerView, 0, len(values))

	for _, v := range values {
		f := v.GetStructValue().GetFields()

		rcps := make(map[string][]string)
		for agent, whoms := range f["recipients"].GetStructValue().GetFields() {
			rcps[agent] = stringList(whoms)
		}

		views = append(views, listenerView{
			Addr:         f["addr"].GetStringValue(),
			LocalAddr:    f["local_addr"].GetStringValue(),
			State:        f["state"].GetStringValue(),
			Counter:      int(f["counter"].GetNumberValue()),
			Threshold:    int(f["threshold"].GetNumberValue()),
			Timespan:     f["timespan"].GetStringValue(),
			LastActivity: f["last_activity"].GetStringValue(),
			Format:       f["format"].GetStringValue(),
			MaxSize:      int(f["max_size"].GetNumberValue()),
			Senders:      stringList(f["senders"]),
			Recipients:   rcps,
		})
	}

	return views
}

func stringList(v *structpb.Value) []string {
	values := v.GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, s := range values {
		out = append(out, s.GetStringValue())
	}
	return out
}

// formatListeners renders listeners in the requested format.
func formatListeners(listeners []listenerView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(listeners, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal listeners to JSON: %w", err)
		}
		return string(data) + "\n", nil
	case formatYAML:
		data, err := yaml.Marshal(listeners)
		if err != nil {
			return "", fmt.Errorf("marshal listeners to YAML: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatListenersTable(listeners)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatListenersTable(listeners []listenerView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDR\tSTATE\tCOUNT\tLAST-ACTIVITY\tSENDERS\tRECIPIENTS")

	for _, l := range listeners {
		last := l.LastActivity
		if last == "" {
			last = valueNA
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d per %s\t%s\t%s\t%s\n",
			l.Addr,
			l.State,
			l.Counter,
			l.Threshold,
			l.Timespan,
			last,
			strings.Join(l.Senders, ","),
			formatRecipients(l.Recipients),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// formatRecipients renders agent:whom pairs in a stable order.
func formatRecipients(rcps map[string][]string) string {
	agents := make([]string, 0, len(rcps))
	for agent := range rcps {
		agents = append(agents, agent)
	}
	slices.Sort(agents)

	var parts []string
	for _, agent := range agents {
		for _, whom := range rcps[agent] {
			parts = append(parts, agent+":"+whom)
		}
	}
	return strings.Join(parts, ",")
}
