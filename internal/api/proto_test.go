package api

import (
	"os"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"testing"

	"google.golang.org/grpc"
)

const protoFile = "../../proto/chatsync/v1/chatsync.proto"

var (
	serviceRe = regexp.MustCompile(`^service (\w+) \{`)
	rpcRe     = regexp.MustCompile(`^rpc (\w+)\((stream )?[\w.]+\) returns \((stream )?[\w.]+\);`)
	messageRe = regexp.MustCompile(`^message (\w+) \{`)
	fieldRe   = regexp.MustCompile(`^(?:repeated )?[\w.]+ (\w+) = \d+;`)
)

type protoContract struct {
	pkg      string
	services map[string][]string // "Name" or "Name stream"
	messages map[string][]string
}

func readProto(t *testing.T) protoContract {
	t.Helper()
	raw, err := os.ReadFile(protoFile)
	if err != nil {
		t.Fatal(err)
	}
	c := protoContract{services: map[string][]string{}, messages: map[string][]string{}}
	var svc, msg string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "package "):
			c.pkg = strings.TrimSuffix(strings.TrimPrefix(line, "package "), ";")
		case serviceRe.MatchString(line):
			svc = serviceRe.FindStringSubmatch(line)[1]
		case messageRe.MatchString(line):
			msg = messageRe.FindStringSubmatch(line)[1]
		case line == "}":
			svc, msg = "", ""
		case svc != "" && rpcRe.MatchString(line):
			m := rpcRe.FindStringSubmatch(line)
			name := m[1]
			if m[2] != "" {
				t.Fatalf("%s.%s: client streaming is not served", svc, name)
			}
			if m[3] != "" {
				name += " stream"
			}
			c.services[svc] = append(c.services[svc], name)
		case msg != "" && fieldRe.MatchString(line):
			c.messages[msg] = append(c.messages[msg], fieldRe.FindStringSubmatch(line)[1])
		}
	}
	return c
}

func descMethods(d *grpc.ServiceDesc) []string {
	var out []string
	for _, m := range d.Methods {
		out = append(out, m.MethodName)
	}
	for _, s := range d.Streams {
		if !s.ServerStreams || s.ClientStreams {
			continue
		}
		out = append(out, s.StreamName+" stream")
	}
	return out
}

func TestServiceDescriptorsMatchProto(t *testing.T) {
	c := readProto(t)
	descs := []*grpc.ServiceDesc{&sessionServiceDesc, &syncServiceDesc, &chatServiceDesc, &messageServiceDesc}
	if len(c.services) != len(descs) {
		t.Fatalf("proto declares %d services, server registers %d", len(c.services), len(descs))
	}
	for _, d := range descs {
		short, ok := strings.CutPrefix(d.ServiceName, c.pkg+".")
		if !ok {
			t.Errorf("%s is outside package %s", d.ServiceName, c.pkg)
			continue
		}
		want := slices.Sorted(slices.Values(c.services[short]))
		got := slices.Sorted(slices.Values(descMethods(d)))
		if !slices.Equal(got, want) {
			t.Errorf("%s: registered %v, proto declares %v", d.ServiceName, got, want)
		}
	}
}

func TestMessagesMatchProto(t *testing.T) {
	c := readProto(t)
	types := map[string]any{
		"Channel":                Channel{},
		"Message":                Message{},
		"StatusResponse":         StatusResponse{},
		"SetAppStateRequest":     SetAppStateRequest{},
		"SyncChannelsRequest":    SyncChannelsRequest{},
		"SyncChannelsResponse":   SyncChannelsResponse{},
		"LoadOlderRequest":       LoadOlderRequest{},
		"BackfillRequest":        BackfillRequest{},
		"LoadedResponse":         LoadedResponse{},
		"FlushOutboxResponse":    FlushOutboxResponse{},
		"ListChannelsRequest":    ListChannelsRequest{},
		"ListChannelsResponse":   ListChannelsResponse{},
		"ChannelRequest":         ChannelRequest{},
		"MessagesResponse":       MessagesResponse{},
		"InitializeChatRequest":  InitializeChatRequest{},
		"InitializeChatResponse": InitializeChatResponse{},
		"MarkReadResponse":       MarkReadResponse{},
		"SetCategoryRequest":     SetCategoryRequest{},
		"SetCategoryResponse":    SetCategoryResponse{},
		"WatchRequest":           WatchRequest{},
		"EventEnvelope":          EventEnvelope{},
		"ListMessagesRequest":    ListMessagesRequest{},
		"SendMessageRequest":     SendMessageRequest{},
		"SendMessageResponse":    SendMessageResponse{},
		"ClientIDRequest":        ClientIDRequest{},
	}
	if len(c.messages) != len(types) {
		t.Errorf("proto declares %d messages, package has %d", len(c.messages), len(types))
	}
	for name, v := range types {
		fields, ok := c.messages[name]
		if !ok {
			t.Errorf("message %s missing from proto", name)
			continue
		}
		var got []string
		rt := reflect.TypeOf(v)
		for i := range rt.NumField() {
			tag, _, _ := strings.Cut(rt.Field(i).Tag.Get("json"), ",")
			got = append(got, tag)
		}
		if !slices.Equal(got, fields) {
			t.Errorf("%s: json fields %v, proto fields %v", name, got, fields)
		}
	}
}
