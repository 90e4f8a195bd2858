package plugin

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"szuro.net/plughost/pkg/abi"
)

// events records lifecycle calls across every fake library in a test.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

func (e *events) index(s string) int {
	for i, v := range e.all() {
		if v == s {
			return i
		}
	}
	return -1
}

// fakePlugin describes one fake library and the instances it hands out.
type fakePlugin struct {
	path        string
	meta        abi.Metadata
	apiVersion  uint32
	size        uintptr
	initErr     error
	panicOn     string
	nilInstance bool

	// symbol overrides the exported entry point when set.
	symbol any
	// noSymbol removes the entry point.
	noSymbol bool

	ev      *events
	created int
	live    map[*fakeInstance]bool
	handles int

	// leaked names every handle that was closed while instances it
	// created were still alive.
	leaked []string
}

func newFakePlugin(ev *events, path, name string) *fakePlugin {
	return &fakePlugin{
		path:       path,
		meta:       abi.Metadata{Name: name, Version: "1.0", Description: "Test Plugin"},
		apiVersion: abi.CurrentAPIVersion,
		size:       abi.DescriptorSize,
		ev:         ev,
		live:       make(map[*fakeInstance]bool),
	}
}

func (p *fakePlugin) descriptor(lib *fakeLibrary) *abi.Descriptor {
	return &abi.Descriptor{
		Create: func() abi.Instance {
			if p.panicOn == "create" {
				panic("create exploded")
			}
			p.created++
			if p.nilInstance {
				return nil
			}
			inst := &fakeInstance{plugin: p, lib: lib, id: p.created}
			p.live[inst] = true
			lib.live++
			p.ev.add("create:%s#%d", p.path, inst.id)
			return inst
		},
		Destroy: func(i abi.Instance) {
			inst := i.(*fakeInstance)
			if !p.live[inst] {
				p.ev.add("double-destroy:%s#%d", p.path, inst.id)
				panic("double destroy")
			}
			delete(p.live, inst)
			inst.lib.live--
			p.ev.add("destroy:%s#%d", p.path, inst.id)
			if p.panicOn == "destroy" {
				panic("destroy exploded")
			}
		},
		APIVersion: p.apiVersion,
		Size:       p.size,
	}
}

type fakeInstance struct {
	plugin *fakePlugin
	lib    *fakeLibrary
	id     int
	config abi.Config
}

func (i *fakeInstance) Init(cfg abi.Config) error {
	if i.plugin.panicOn == "init" {
		panic("init exploded")
	}
	i.config = cfg
	return i.plugin.initErr
}

func (i *fakeInstance) Execute(input string) (string, error) {
	switch i.plugin.panicOn {
	case "execute":
		panic("execute exploded")
	case "execute-error":
		return "", errors.New("bad input")
	}
	return "Processed: " + input, nil
}

func (i *fakeInstance) Metadata() abi.Metadata {
	if i.plugin.panicOn == "metadata" {
		panic("metadata exploded")
	}
	return i.plugin.meta
}

// fakeLibrary is an opened handle on a fakePlugin.
type fakeLibrary struct {
	plugin *fakePlugin
	handle int
	live   int
	closed bool
}

func (l *fakeLibrary) Path() string { return l.plugin.path }

func (l *fakeLibrary) Lookup(symbol string) (any, error) {
	if l.closed {
		return nil, errors.New("library handle is closed")
	}
	if symbol != abi.EntryPoint || l.plugin.noSymbol {
		return nil, fmt.Errorf("symbol %s not found", symbol)
	}
	if l.plugin.symbol != nil {
		return l.plugin.symbol, nil
	}
	desc := l.plugin.descriptor(l)
	return func() *abi.Descriptor { return desc }, nil
}

func (l *fakeLibrary) Close() error {
	if l.closed {
		return errors.New("already closed")
	}
	l.closed = true
	if l.live != 0 {
		l.plugin.leaked = append(l.plugin.leaked, fmt.Sprintf("%s@%d (%d live)", l.plugin.path, l.handle, l.live))
	}
	l.plugin.ev.add("close:%s", l.plugin.path)
	return nil
}

// fakeOpener serves fakePlugins by path.
type fakeOpener struct {
	plugins map[string]*fakePlugin
	opened  int
}

func newFakeOpener(plugins ...*fakePlugin) *fakeOpener {
	o := &fakeOpener{plugins: make(map[string]*fakePlugin)}
	for _, p := range plugins {
		o.plugins[p.path] = p
	}
	return o
}

func (o *fakeOpener) Open(path string) (Library, error) {
	p, ok := o.plugins[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	o.opened++
	p.handles++
	p.ev.add("open:%s", path)
	return &fakeLibrary{plugin: p, handle: p.handles}, nil
}

func newTestManager(o Opener, opts ...Option) *Manager {
	opts = append([]Option{WithOpener(RuntimeNative, o)}, opts...)
	return NewManager(opts...)
}
