// yash is the thin remote-shell client: it connects to a yashd instance,
// displays whatever the server writes (shell output and prompts), reads one
// local line per round trip and forwards it as a wire command, and
// translates local Ctrl-C/Ctrl-Z into the CTL control messages.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alphabravo/yashd/internal/wire"
)

func main() {
	var port int
	var logLevel string

	root := &cobra.Command{
		Use:   "yash",
		Short: "connect to a yashd remote shell",
	}

	connectCmd := &cobra.Command{
		Use:   "connect <server-ipv4>",
		Short: "connect to a yashd instance and start an interactive session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(args[0], port, logLevel)
		},
	}
	connectCmd.Flags().IntVar(&port, "port", 3822, "yashd listening port")
	connectCmd.Flags().StringVar(&logLevel, "log-level", "info", "client diagnostic log level (debug, info, warn, error); accepted but not used, the client writes no diagnostic log")

	root.AddCommand(connectCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runClient(ip string, port int, _ string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("yash: stdin is not a terminal")
	}

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("yash: cannot connect to %s: %w", addr, err)
	}
	defer conn.Close()

	fmt.Printf("Connected to server at %s:%d\n", ip, port)

	var writeMu sync.Mutex
	writeLocked := func(s string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := conn.Write([]byte(s))
		return err
	}

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTSTP)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGINT:
				writeLocked(wire.EncodeInterrupt())
			case syscall.SIGTSTP:
				writeLocked(wire.EncodeSuspend())
			}
		}
	}()

	in := bufio.NewReader(os.Stdin)
	readBuf := make([]byte, 4096)

	for {
		n, err := conn.Read(readBuf)
		if err != nil {
			fmt.Println("Server disconnected or error occurred.")
			return nil
		}
		os.Stdout.Write(readBuf[:n])

		line, err := in.ReadString('\n')
		if err != nil {
			// Local EOF (Ctrl-D): end the session cleanly, per §6.4's "local
			// EOF terminates the client" — the client still signals EOF to
			// the server so it tears down the session rather than being
			// left to idle forever.
			writeLocked(wire.EncodeEOF())
			return nil
		}
		line = strings.TrimRight(line, "\n")

		if line == "quit" {
			// client.c's handle_quit special-cases this keyword; the
			// canonical EOF\n still goes out first so the server has a
			// single termination path regardless of how the client got here.
			writeLocked(wire.EncodeEOF())
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) > 0 && (fields[0] == "cat" || fields[0] == "wc") {
			if err := writeLocked(wire.EncodeCmd(line)); err != nil {
				return err
			}
			forwardMultilineInput(in, writeLocked)
			writeLocked(wire.EncodeEOF())
			return nil
		}

		if err := writeLocked(wire.EncodeCmd(line)); err != nil {
			return err
		}
	}
}

// forwardMultilineInput implements the cat/wc heuristic of
// client.c's send_multiline_input: after a cat or wc command is sent, the
// client reads raw lines from local stdin until local EOF and forwards the
// accumulated text unprefixed, so the remote program's stdin read succeeds.
func forwardMultilineInput(in *bufio.Reader, writeLocked func(string) error) {
	var buf strings.Builder
	for {
		line, err := in.ReadString('\n')
		buf.WriteString(line)
		if err != nil {
			break
		}
	}
	if buf.Len() > 0 {
		writeLocked(buf.String())
	}
}
