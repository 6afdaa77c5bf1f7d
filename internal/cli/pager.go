package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// ShowLog displays a run log in a scrollable TUI when stdout is a terminal
// and the log does not fit on screen. Otherwise it is printed as is.
func ShowLog(path string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		printLines(lines)
		return nil
	}
	// two rows for the border
	if _, height, err := term.GetSize(fd); err == nil && len(lines) <= height-2 {
		printLines(lines)
		return nil
	}

	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	textView.SetBorder(true).SetTitle(" " + filepath.Base(path) + " ")

	w := tview.ANSIWriter(textView)
	for _, line := range lines {
		fmt.Fprintln(w, highlight(line))
	}
	// newest entries are at the bottom
	textView.ScrollToEnd()

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]↑/↓, PgUp/PgDn, g/G to scroll. Press 'q' or 'Esc' to quit.[white]")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				app.Stop()
				return nil
			case 'g':
				textView.ScrollToBeginning()
				return nil
			case 'G':
				textView.ScrollToEnd()
				return nil
			}
		}
		return event
	})

	if err := app.SetRoot(flex, true).SetFocus(textView).Run(); err != nil {
		return fmt.Errorf("pager execution failed: %w", err)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func printLines(lines []string) {
	for _, line := range lines {
		fmt.Println(line)
	}
}

// highlight colours log lines by level. Subprocess output passes through
// with its own escape sequences, if any.
func highlight(line string) string {
	escaped := tview.Escape(line)
	switch {
	case strings.Contains(line, " ERRO "):
		return "[red]" + escaped + "[-]"
	case strings.Contains(line, " WARN "):
		return "[yellow]" + escaped + "[-]"
	case strings.Contains(line, " DEBU "):
		return "[gray]" + escaped + "[-]"
	}
	return escaped
}
