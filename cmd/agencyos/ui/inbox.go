package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"agencyos/internal/domain"
	"agencyos/internal/queue"
	"agencyos/internal/store"
)

// queueListItem adapts a queue item to bubbles/list.
type queueListItem struct {
	item *domain.QueueItem
}

func (i queueListItem) Title() string {
	return fmt.Sprintf("P%d %s", i.item.Priority, i.item.IssueType)
}

func (i queueListItem) Description() string {
	age := time.Since(i.item.CreatedAt).Round(time.Hour)
	return fmt.Sprintf("%s %s, open %s", i.item.EntityType, i.item.EntityID, age)
}

func (i queueListItem) FilterValue() string {
	return string(i.item.IssueType) + " " + string(i.item.EntityType) + " " + i.item.EntityID
}

type itemsLoadedMsg struct {
	items []*domain.QueueItem
	err   error
}

type actionDoneMsg struct {
	verb string
	err  error
}

// InboxModel is the inbox page: open queue items on the left, the
// selected item's detail on the right.
type InboxModel struct {
	store *store.Store
	queue *queue.Engine

	width  int
	height int

	list     list.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer

	focusViewport bool
	selected      *domain.QueueItem
	styles        Styles
}

// NewInbox builds the inbox page over a store.
func NewInbox(st *store.Store, qe *queue.Engine) InboxModel {
	vp := viewport.New(0, 0)
	vp.SetContent("Select an item.")

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Inbox"
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))

	return InboxModel{
		store:    st,
		queue:    qe,
		list:     l,
		viewport: vp,
		styles:   DefaultStyles(),
	}
}

// Run starts the inbox program and blocks until quit.
func Run(st *store.Store, qe *queue.Engine) error {
	_, err := tea.NewProgram(NewInbox(st, qe), tea.WithAltScreen()).Run()
	return err
}

func (m InboxModel) Init() tea.Cmd {
	return m.loadItems()
}

func (m InboxModel) loadItems() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		items, err := m.store.ListQueueItems(ctx, store.QueueFilter{Now: time.Now().UTC()})
		return itemsLoadedMsg{items: items, err: err}
	}
}

func (m InboxModel) act(verb string, id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		now := time.Now().UTC()
		var err error
		switch verb {
		case "accept":
			err = m.queue.Accept(ctx, id, "operator", now)
		case "snooze":
			err = m.queue.Snooze(ctx, id, now)
		case "dismiss":
			err = m.queue.Dismiss(ctx, id, "operator", now)
		}
		return actionDoneMsg{verb: verb, err: err}
	}
}

func (m InboxModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)

	case itemsLoadedMsg:
		if msg.err != nil {
			cmds = append(cmds, m.list.NewStatusMessage(m.styles.Error.Render(msg.err.Error())))
			break
		}
		items := make([]list.Item, 0, len(msg.items))
		for _, item := range msg.items {
			items = append(items, queueListItem{item: item})
		}
		m.list.SetItems(items)
		m.list.Title = fmt.Sprintf("Inbox (%d open)", len(items))
		m.selected = nil
		m.viewport.SetContent("Select an item.")

	case actionDoneMsg:
		if msg.err != nil {
			cmds = append(cmds, m.list.NewStatusMessage(m.styles.Error.Render(msg.err.Error())))
			break
		}
		cmds = append(cmds,
			m.list.NewStatusMessage(m.styles.Success.Render(msg.verb+" done")),
			m.loadItems())

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.focusViewport = !m.focusViewport
			return m, nil
		case "a":
			if m.selected != nil {
				return m, m.act("accept", m.selected.ID)
			}
		case "s":
			if m.selected != nil {
				return m, m.act("snooze", m.selected.ID)
			}
		case "d":
			if m.selected != nil {
				return m, m.act("dismiss", m.selected.ID)
			}
		case "r":
			return m, m.loadItems()
		}
	}

	_, isKey := msg.(tea.KeyMsg)
	if !isKey || !m.focusViewport || m.list.FilterState() == list.Filtering {
		m.list, cmd = m.list.Update(msg)
		cmds = append(cmds, cmd)
	}
	if !isKey || (m.focusViewport && m.list.FilterState() != list.Filtering) {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	if sel := m.list.SelectedItem(); sel != nil {
		item := sel.(queueListItem).item
		if m.selected == nil || m.selected.ID != item.ID {
			m.selected = item
			m.viewport.SetContent(m.renderDetail(item))
			m.viewport.GotoTop()
		}
	}

	return m, tea.Batch(cmds...)
}

// renderDetail renders the item as Markdown through glamour.
func (m *InboxModel) renderDetail(item *domain.QueueItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.IssueType)
	fmt.Fprintf(&b, "**Entity:** %s `%s`\n\n", item.EntityType, item.EntityID)
	fmt.Fprintf(&b, "**Priority:** P%d\n\n", item.Priority)
	fmt.Fprintf(&b, "**First seen:** %s\n\n", item.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "**Last seen:** %s\n\n", item.LastSeenAt.Format("2006-01-02 15:04"))

	if item.Context != "" {
		var detail map[string]any
		if err := json.Unmarshal([]byte(item.Context), &detail); err == nil && len(detail) > 0 {
			b.WriteString("## Context\n\n")
			for key, value := range detail {
				fmt.Fprintf(&b, "- **%s:** %v\n", key, value)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("---\n\na accept, s snooze, d dismiss\n")

	if m.renderer == nil {
		return b.String()
	}
	out, err := m.renderer.Render(b.String())
	if err != nil {
		return b.String()
	}
	return out
}

func (m InboxModel) View() string {
	listWidth := int(float64(m.width) * 0.4)
	detailWidth := m.width - listWidth

	base := lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder())
	listStyle := base.BorderForeground(m.styles.Focus)
	detailStyle := base.BorderForeground(m.styles.Border)
	if m.focusViewport {
		listStyle, detailStyle = detailStyle, listStyle
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top,
		listStyle.Width(listWidth-4).Render(m.list.View()),
		detailStyle.Width(detailWidth-4).Render(m.viewport.View()))
	help := m.styles.Muted.Render(" a accept • s snooze • d dismiss • r reload • tab focus • / filter • q quit")
	return lipgloss.JoinVertical(lipgloss.Left, main, help)
}

func (m *InboxModel) setSize(w, h int) {
	m.width = w
	m.height = h

	chromeW, chromeH := 4, 2
	paneH := h - 3 - chromeH
	listWidth := int(float64(w) * 0.4)
	detailWidth := w - listWidth

	m.list.SetSize(listWidth-chromeW, paneH)
	m.viewport.Width = detailWidth - chromeW
	m.viewport.Height = paneH

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(detailWidth-chromeW-2),
	)
	if err == nil {
		m.renderer = renderer
	}
	if m.selected != nil {
		m.viewport.SetContent(m.renderDetail(m.selected))
	}
}
