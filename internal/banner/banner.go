package banner

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/knusbaum/robby/internal/styles"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
              __    __
   _________ / /_  / /_  __  __
  / ___/ __ \/ __ \/ __ \/ / / /
 / /  / /_/ / /_/ / /_/ / /_/ /
/_/   \____/_.___/_.___/\__, /
                       /____/   `

	return "\n" + style.Render(ascii) + "\n"
}
