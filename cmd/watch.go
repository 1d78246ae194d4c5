package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/testexec/internal/hub"
)

// watchClient streams result notifications from a running server.
type watchClient struct {
	conn *websocket.Conn
}

func dialResults(ctx context.Context, addr string, caseIDs []int64) (*watchClient, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	q := u.Query()
	for _, id := range caseIDs {
		q.Add("case_id", strconv.FormatInt(id, 10))
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &watchClient{conn: conn}, nil
}

func (c *watchClient) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// stream prints every server message until the connection ends. It stops
// after limit results when limit is positive.
func (c *watchClient) stream(w io.Writer, output string, limit int) error {
	seen := 0
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg hub.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		switch msg.Type {
		case hub.TypeSubscribed:
			fmt.Fprintf(w, "# subscribed as %s (cases: %v)\n", msg.ConnectionID, msg.CaseIDs)
		case hub.TypeError:
			fmt.Fprintf(w, "# server error: %s\n", msg.Message)
		case hub.TypeResult:
			if msg.Result == nil {
				continue
			}
			if err := printValue(w, output, msg.Result); err != nil {
				return err
			}
			seen++
			if limit > 0 && seen >= limit {
				return nil
			}
		}
	}
}

func newWatchCmd() *cobra.Command {
	var (
		addr   string
		cases  []int64
		count  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live execution results from a running server",
		Long: `Connect to the results WebSocket of 'testexec serve' and print every
execution result as it is published.

Examples:
  testexec watch
  testexec watch --case 42 --case 43 --count 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := dialResults(ctx, addr, cases)
			if err != nil {
				return err
			}
			go func() {
				<-ctx.Done()
				_ = client.Close()
			}()

			err = client.stream(cmd.OutOrStdout(), output, count)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/v1/ws/results", "Results WebSocket address")
	cmd.Flags().Int64SliceVar(&cases, "case", nil, "Only show results that include this case id (repeatable)")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many results (0 = run until interrupted)")
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "Output format (json, yaml)")
	return cmd
}
