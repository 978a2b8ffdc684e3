package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/harunnryd/dineline/pkg/dineline"
	"github.com/harunnryd/dineline/pkg/transports"
	twiliotransport "github.com/harunnryd/dineline/pkg/transports/twilio"
)

func main() {
	configPath := flag.String("config", "config.example.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	sendDigits := flag.String("send_digits", "", "")
	hangup := flag.String("hangup", "", "call SID to end instead of dialing")
	flag.Parse()

	cfg, err := dineline.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	tcfg, err := dineline.TransportConfig(cfg)
	if err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	ctx := context.Background()

	if *hangup != "" {
		if err := twiliotransport.NewCallController(tcfg).Hangup(ctx, *hangup); err != nil {
			fmt.Println("hangup error:", err)
			os.Exit(1)
		}
		fmt.Println("ended:", *hangup)
		return
	}
	if *to == "" {
		fmt.Println("usage: make_call -to=+456 [-from=+123] [-config=...] | -hangup=CA...")
		os.Exit(1)
	}
	if *voiceURL == "" && tcfg.PublicURL == "" {
		fmt.Println("public_url is empty")
		os.Exit(1)
	}
	dialer := twiliotransport.NewDialer(tcfg)
	callSID, err := dialer.DialWithOptions(ctx, *to, *from, *voiceURL, transports.DialOptions{SendDigits: *sendDigits})
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}
