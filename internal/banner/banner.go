// Package banner prints the help banner.
package banner

import (
	"github.com/charmbracelet/lipgloss"

	"crudstress/internal/tui/styles"
)

const ascii = `
  ___ ___ _   _ ___  ___ _____ ___ ___ ___ ___ 
 / __| _ \ | | |   \/ __|_   _| _ \ __/ __/ __|
| (__|   / |_| | |) \__ \ | | |   / _|\__ \__ \
 \___|_|_\\___/|___/|___/ |_| |_|_\___|___/___/`

func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorPrimary).
		Bold(true)
	return "\n" + style.Render(ascii) + "\n"
}
