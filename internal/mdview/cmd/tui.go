package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"

	"github.com/olksdr/minidump-viewer/internal/mdview/styles"
	"github.com/olksdr/minidump-viewer/internal/report"
	"github.com/olksdr/minidump-viewer/internal/triage"
)

type viewMode int

const (
	viewOverview viewMode = iota
	viewThreads
	viewModules
	viewThread
)

type threadItem struct {
	thread  report.ThreadInfo
	crashed bool
}

func (i threadItem) FilterValue() string {
	if i.thread.Name != nil {
		return fmt.Sprintf("%d %s", i.thread.ThreadID, *i.thread.Name)
	}
	return fmt.Sprint(i.thread.ThreadID)
}

func (i threadItem) line() string {
	s := fmt.Sprintf("%-8d %-3d frames  %s", i.thread.ThreadID, len(i.thread.StackFrames), styles.Method(i.thread.UnwindingMethod))
	if i.thread.Name != nil {
		s += "  " + *i.thread.Name
	}
	if i.crashed {
		s += "  " + styles.Error.Render("crashed")
	}
	return s
}

type moduleItem struct {
	module report.ModuleInfo
}

func (i moduleItem) FilterValue() string { return i.module.Name }

func (i moduleItem) line() string {
	return fmt.Sprintf("%s  %-10s %s", i.module.BaseOfImage, fmt.Sprintf("%#x", i.module.SizeOfImage), baseName(i.module.Name))
}

// itemDelegate renders threads and modules on one line each.
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(interface{ line() string })
	if !ok {
		return
	}
	if index == m.Index() {
		fmt.Fprint(w, " "+styles.Selected.Render(">")+" "+i.line())
		return
	}
	fmt.Fprint(w, "   "+i.line())
}

type model struct {
	overview viewport.Model
	threads  list.Model
	modules  list.Model
	detail   viewport.Model
	spinner  spinner.Model
	mode     viewMode
	filepath string
	triager  *triage.Triager
	report   *report.Overview
	err      error
	loading  bool
	width    int
	height   int
}

type reportMsg struct {
	overview *report.Overview
	err      error
}

func loadReportCmd(t *triage.Triager, path string) tea.Cmd {
	return func() tea.Msg {
		ov, err := t.File(context.Background(), path)
		return reportMsg{overview: ov, err: err}
	}
}

func newList(title string) list.Model {
	l := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Title = title
	l.Styles.Title = styles.Title
	l.SetShowHelp(true)
	return l
}

// NewModel returns the interactive viewer for the dump at path.
func NewModel(path string, t *triage.Triager) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)
	dvp := viewport.New()
	dvp.SetWidth(80)
	dvp.SetHeight(24)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	m := model{
		overview: vp,
		threads:  newList("Threads"),
		modules:  newList("Modules"),
		detail:   dvp,
		spinner:  s,
		mode:     viewOverview,
		filepath: path,
		triager:  t,
		loading:  true,
		width:    80,
		height:   24,
	}
	m.updateContent()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		loadReportCmd(m.triager, m.filepath),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case reportMsg:
		m.loading = false
		m.report, m.err = msg.overview, msg.err
		m.updateLists()
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		if m.loading {
			m.updateContent()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.overview.SetWidth(msg.Width)
			m.overview.SetHeight(msg.Height - 2)
			m.threads.SetWidth(msg.Width)
			m.threads.SetHeight(msg.Height - 2)
			m.modules.SetWidth(msg.Width)
			m.modules.SetHeight(msg.Height - 2)
			m.detail.SetWidth(msg.Width)
			m.detail.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		if m.filtering() {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "o":
			m.mode = viewOverview
			return m, nil
		case "t":
			if m.hasThreads() {
				m.mode = viewThreads
			}
			return m, nil
		case "m":
			if m.hasModules() {
				m.mode = viewModules
			}
			return m, nil
		case "enter":
			if m.mode == viewThreads {
				if it, ok := m.threads.SelectedItem().(threadItem); ok {
					m.detail.SetContent(m.render(threadMarkdown(it)))
					m.detail.GotoTop()
					m.mode = viewThread
				}
			}
			return m, nil
		case "esc":
			if m.mode == viewThread {
				m.mode = viewThreads
				return m, nil
			}
		case "tab":
			m.mode = m.cycle(1)
			return m, nil
		case "shift+tab":
			m.mode = m.cycle(-1)
			return m, nil
		}
	}

	switch m.mode {
	case viewThreads:
		m.threads, cmd = m.threads.Update(msg)
	case viewModules:
		m.modules, cmd = m.modules.Update(msg)
	case viewThread:
		m.detail, cmd = m.detail.Update(msg)
	default:
		m.overview, cmd = m.overview.Update(msg)
	}
	return m, cmd
}

func (m model) filtering() bool {
	switch m.mode {
	case viewThreads:
		return m.threads.FilterState() == list.Filtering
	case viewModules:
		return m.modules.FilterState() == list.Filtering
	}
	return false
}

func (m model) hasThreads() bool { return len(m.threads.Items()) > 0 }
func (m model) hasModules() bool { return len(m.modules.Items()) > 0 }

// cycle steps through the top-level views that have content. The thread
// detail view counts as the threads view.
func (m model) cycle(step int) viewMode {
	views := []viewMode{viewOverview}
	if m.hasThreads() {
		views = append(views, viewThreads)
	}
	if m.hasModules() {
		views = append(views, viewModules)
	}
	cur := m.mode
	if cur == viewThread {
		cur = viewThreads
	}
	for i, v := range views {
		if v == cur {
			return views[(i+step+len(views))%len(views)]
		}
	}
	return viewOverview
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewThreads:
		content = m.threads.View()
	case viewModules:
		content = m.modules.View()
	case viewThread:
		content = m.detail.View()
	default:
		content = m.overview.View()
	}

	var menu string
	switch m.mode {
	case viewThreads:
		menu = " Enter: frames • O: overview • M: modules • Tab: cycle • Q: quit "
	case viewModules:
		menu = " O: overview • T: threads • Tab: cycle • Q: quit "
	case viewThread:
		menu = " Esc: threads • O: overview • Q: quit "
	default:
		if m.hasThreads() || m.hasModules() {
			menu = " T: threads • M: modules • Tab: cycle • Q: quit "
		} else {
			menu = " Q: quit "
		}
	}
	return content + "\n" + styles.Menu.Width(m.width).Render(menu)
}

func (m *model) updateLists() {
	if m.report == nil {
		return
	}
	var crashed uint32
	hasCrash := m.report.ExceptionInfo != nil
	if hasCrash {
		crashed = m.report.ExceptionInfo.CrashingThreadID
	}
	threads := make([]list.Item, 0, len(m.report.ThreadsData))
	for _, th := range m.report.ThreadsData {
		threads = append(threads, threadItem{thread: th, crashed: hasCrash && th.ThreadID == crashed})
	}
	m.threads.SetItems(threads)

	if md := m.report.ModulesData; md != nil {
		modules := make([]list.Item, 0, len(md.Modules))
		for _, mod := range md.Modules {
			modules = append(modules, moduleItem{module: mod})
		}
		m.modules.SetItems(modules)
	}
}

func (m *model) updateContent() {
	relPath := m.filepath
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := pathpkg.Rel(cwd, m.filepath); err == nil {
			relPath = rel
		}
	}

	var md string
	switch {
	case m.loading:
		md = fmt.Sprintf("# %s\n\n%s Triaging...", pathpkg.Base(relPath), m.spinner.View())
	case m.err != nil:
		md = fmt.Sprintf("# %s\n\n%s", pathpkg.Base(relPath), styles.Error.Render(m.err.Error()))
	default:
		md = Markdown(m.report, relPath)
	}
	m.overview.SetContent(m.render(md))
}

// render runs markdown through glamour at the current width.
func (m *model) render(md string) string {
	width := m.width
	if width == 0 {
		width = 80
	}
	r := styles.MarkdownRenderer(width - 2)
	if r == nil {
		return md
	}
	rendered, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSuffix(rendered, "\n")
}

func threadMarkdown(it threadItem) string {
	var b strings.Builder
	th := it.thread
	fmt.Fprintf(&b, "# Thread %d", th.ThreadID)
	if th.Name != nil {
		fmt.Fprintf(&b, " %q", *th.Name)
	}
	b.WriteString("\n\n")
	if it.crashed {
		b.WriteString("_Crashing thread._\n\n")
	}
	fmt.Fprintf(&b, "- **Unwinding**: %s\n", th.UnwindingMethod)
	fmt.Fprintf(&b, "- **TEB**: `%s`\n", th.TEB)
	if th.Stack != nil {
		fmt.Fprintf(&b, "- **Stack**: `%s` (%#x bytes)\n", th.Stack.StartAddress, th.Stack.MemorySize)
	}
	fmt.Fprintf(&b, "- **Priority**: %d (class %d), suspend count %d\n\n", th.Priority, th.PriorityClass, th.SuspendCount)

	b.WriteString("## Frames\n\n")
	b.WriteString(FramesBlock(th.StackFrames))
	if th.Context != nil {
		b.WriteString("\n## Registers\n\n")
		writeRegisters(&b, th.Context)
	}
	return b.String()
}
