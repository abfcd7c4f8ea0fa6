// Command speaker-ctl drives a speaker-service from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/book-expert/logger"
)

// Flag descriptions.
const (
	flagServerDesc  = "Base URL of the speaker service"
	flagTextDesc    = "Text to convert to an announcement"
	flagNameDesc    = "Display name for --text announcements"
	flagUploadDesc  = "Audio file to upload"
	flagListDesc    = "List playable tracks"
	flagInfoDesc    = "Show metadata of a track"
	flagRemoveDesc  = "Delete a track"
	flagDeviceDesc  = "Device id for --play, --track and --stop"
	flagPlayDesc    = "Stream URL to play on --device"
	flagTrackDesc   = "Track name to play on --device"
	flagStopDesc    = "Stop playback on --device"
	flagHealthDesc  = "Check service readiness and exit"
	flagTimeoutDesc = "Request timeout"
)

// Flag names.
const (
	flagServer  = "server"
	flagText    = "text"
	flagName    = "name"
	flagUpload  = "upload"
	flagList    = "list"
	flagInfo    = "info"
	flagRemove  = "remove"
	flagDevice  = "device"
	flagPlay    = "play"
	flagTrack   = "track"
	flagStop    = "stop"
	flagHealth  = "health"
	flagTimeout = "timeout"
)

const (
	defaultServer  = "http://localhost:3000"
	defaultTimeout = 2 * time.Minute
	logFileName    = "speaker-ctl.log"
)

// Argument errors.
var (
	ErrNoAction       = errors.New("one of --text, --upload, --list, --info, --remove, --health or --device must be provided")
	ErrTooManyActions = errors.New("only one action may be given at a time")
	ErrDeviceCommand  = errors.New("--device needs exactly one of --play, --track or --stop")
	ErrDeviceRequired = errors.New("--play, --track and --stop need --device")
)

// Log and console messages.
const (
	msgServiceReady    = "Speaker service is ready"
	logActionStarted   = "Running %s against %s"
	logActionFailed    = "%s failed: %v"
	logActionSucceeded = "%s succeeded"
)

type action string

const (
	actionText   action = "text"
	actionUpload action = "upload"
	actionList   action = "list"
	actionInfo   action = "info"
	actionRemove action = "remove"
	actionHealth action = "health"
	actionPlay   action = "play"
	actionStop   action = "stop"
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server  string
	text    string
	name    string
	upload  string
	info    string
	remove  string
	device  string
	play    string
	track   string
	timeout time.Duration
	list    bool
	stop    bool
	health  bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application entry point, returning an error on failure.
func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	selected, err := selectAction(flags)
	if err != nil {
		return err
	}

	log, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	log.Info(logActionStarted, selected, flags.server)

	err = execute(ctx, newAPIClient(flags.server, flags.timeout), selected, flags, stdout)
	if err != nil {
		log.Error(logActionFailed, selected, err)

		return err
	}

	log.Info(logActionSucceeded, selected)

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	set := flag.NewFlagSet("speaker-ctl", flag.ContinueOnError)
	set.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	set.StringVar(&flags.text, flagText, "", flagTextDesc)
	set.StringVar(&flags.name, flagName, "", flagNameDesc)
	set.StringVar(&flags.upload, flagUpload, "", flagUploadDesc)
	set.BoolVar(&flags.list, flagList, false, flagListDesc)
	set.StringVar(&flags.info, flagInfo, "", flagInfoDesc)
	set.StringVar(&flags.remove, flagRemove, "", flagRemoveDesc)
	set.StringVar(&flags.device, flagDevice, "", flagDeviceDesc)
	set.StringVar(&flags.play, flagPlay, "", flagPlayDesc)
	set.StringVar(&flags.track, flagTrack, "", flagTrackDesc)
	set.BoolVar(&flags.stop, flagStop, false, flagStopDesc)
	set.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	set.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	err := set.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// selectAction validates the flags and reports the single requested action.
func selectAction(flags appFlags) (action, error) {
	var selected []action

	add := func(set bool, a action) {
		if set {
			selected = append(selected, a)
		}
	}

	add(flags.text != "", actionText)
	add(flags.upload != "", actionUpload)
	add(flags.list, actionList)
	add(flags.info != "", actionInfo)
	add(flags.remove != "", actionRemove)
	add(flags.health, actionHealth)

	deviceCommands := 0

	for _, set := range []bool{flags.play != "", flags.track != "", flags.stop} {
		if set {
			deviceCommands++
		}
	}

	switch {
	case flags.device == "" && deviceCommands > 0:
		return "", ErrDeviceRequired
	case flags.device != "" && deviceCommands != 1:
		return "", ErrDeviceCommand
	case flags.device != "" && flags.stop:
		selected = append(selected, actionStop)
	case flags.device != "":
		selected = append(selected, actionPlay)
	}

	switch len(selected) {
	case 0:
		return "", ErrNoAction
	case 1:
		return selected[0], nil
	default:
		return "", fmt.Errorf("%w: %v", ErrTooManyActions, selected)
	}
}

// execute dispatches the action and prints its outcome.
func execute(ctx context.Context, client *apiClient, selected action, flags appFlags, stdout io.Writer) error {
	switch selected {
	case actionText:
		result, err := client.Speak(ctx, flags.text, flags.name)
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "Generated %s\n%s\n", result.PublicID, result.URL)
	case actionUpload:
		result, err := client.Upload(ctx, flags.upload)
		if err != nil {
			return err
		}

		location := result.URL
		if location == "" {
			location = result.CompressedFile
		}

		fmt.Fprintf(stdout, "Uploaded %s (%s -> %s)\n%s\n",
			result.OriginalName, result.Sizes.OriginalHuman, result.Sizes.CompressedHuman, location)
	case actionList:
		names, err := client.List(ctx)
		if err != nil {
			return err
		}

		for _, name := range names {
			fmt.Fprintln(stdout, name)
		}
	case actionInfo:
		info, err := client.Info(ctx, flags.info)
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", info.Name, info.SizeHuman, info.ModifiedAt.Format(time.RFC3339), info.URL)
	case actionRemove:
		err := client.Remove(ctx, flags.remove)
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "Deleted %s\n", flags.remove)
	case actionHealth:
		err := client.Health(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintln(stdout, msgServiceReady)
	case actionPlay:
		err := client.DevicePlay(ctx, flags.device, flags.play, flags.track)
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "Play sent to %s\n", flags.device)
	case actionStop:
		err := client.DeviceStop(ctx, flags.device)
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "Stop sent to %s\n", flags.device)
	}

	return nil
}
