package main

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/groblegark/bullhorn/internal/config"
	"github.com/groblegark/bullhorn/internal/ui"
)

var topicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Show the ntfy subscription topic",
	Long: `Prints the generated ntfy topic URL and a scannable code for it. The topic
name is the only thing protecting the stream, treat it like a password.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, topic := topicSettings()
		if topic == "" {
			t, err := config.LoadOrCreateTopic()
			if err != nil {
				return err
			}
			topic = t
		}
		printTopic(endpoint + "/" + topic)
		return nil
	},
}

var topicRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Generate a fresh topic, invalidating the old one",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, _ := topicSettings()
		topic, err := config.RotateTopic()
		if err != nil {
			return err
		}
		printTopic(endpoint + "/" + topic)
		return nil
	},
}

func init() {
	topicCmd.AddCommand(topicRotateCmd)
}

// topicSettings reads the ntfy endpoint and pinned topic from the config when
// it loads; the topic commands still work before the identity is configured.
func topicSettings() (endpoint, topic string) {
	endpoint = "https://ntfy.sh"
	cfg, err := config.Load(configPath)
	if err != nil {
		return endpoint, ""
	}
	return cfg.NtfyEndpoint, cfg.NtfyTopic
}

// printTopic shows the subscription URL with a scannable code so a phone can
// subscribe without typing.
func printTopic(url string) {
	fmt.Println(ui.RenderAccent("Subscribe to notifications at:"))
	fmt.Println(url)
	if qr, err := qrcode.New(url, qrcode.Medium); err == nil {
		fmt.Println(qr.ToSmallString(false))
	}
}
