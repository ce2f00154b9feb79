package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	markReply  = regexp.MustCompile(`Página (\d+) marcada`)
	speedReply = regexp.MustCompile(`Velocidade: (\d+)us`)

	// Prefixes and fragments the firmware uses when it refuses a command.
	rejections = []string{"Comando inválido", "Erro", "não definida", "Nenhuma calibração"}
)

// Rejection returns the first line in which the firmware refused a command.
func Rejection(lines []string) (string, bool) {
	for _, l := range lines {
		for _, r := range rejections {
			if strings.Contains(l, r) {
				return strings.TrimSpace(l), true
			}
		}
	}
	return "", false
}

// MarkedPage returns the page number acknowledged by a MARK reply.
func MarkedPage(lines []string) (int, bool) {
	for _, l := range lines {
		if m := markReply.FindStringSubmatch(l); m != nil {
			n, err := strconv.Atoi(m[1])
			return n, err == nil
		}
	}
	return 0, false
}

// ReportedSpeed returns the step interval acknowledged by a speed command.
func ReportedSpeed(lines []string) (int, bool) {
	for _, l := range lines {
		if m := speedReply.FindStringSubmatch(l); m != nil {
			n, err := strconv.Atoi(m[1])
			return n, err == nil
		}
	}
	return 0, false
}
