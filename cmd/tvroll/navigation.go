package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tvalice/tvroll/pkg/session"
)

func logNav(res session.NavResult) {
	logResponse(res.Response)
	if res.From == res.To {
		logrus.Infof("stayed on page %d", res.To)
		return
	}
	logrus.Infof("moved from page %d to page %d (position %d steps)", res.From, res.To, res.Position)
}

func NewGotoCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "goto [page]",
		Short:   "Go to a page",
		GroupID: gNavigation,
		Long: `Go to a page.

Pages are numbered from 1. The page must have been marked on the board.`,
		RunE: func(_ *cobra.Command, args []string) error {
			page, err := parseIntArg(args, "page")
			if err != nil {
				return err
			}
			if page < 1 {
				return fmt.Errorf("invalid page: %d, pages start at 1", page)
			}

			res, err := apiClient.Goto(page)
			if err != nil {
				return fmt.Errorf("failed to go to page %d: %w", page, err)
			}
			logNav(res)
			return nil
		},
	}
}

func NewNextCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "next",
		Aliases: []string{"n"},
		Short:   "Go to the next page",
		GroupID: gNavigation,
		RunE: func(_ *cobra.Command, _ []string) error {
			res, err := apiClient.Next()
			if err != nil {
				return fmt.Errorf("failed to go to the next page: %w", err)
			}
			logNav(res)
			return nil
		},
	}
}

func NewPrevCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "prev",
		Aliases: []string{"p", "previous"},
		Short:   "Go to the previous page",
		GroupID: gNavigation,
		RunE: func(_ *cobra.Command, _ []string) error {
			res, err := apiClient.Prev()
			if err != nil {
				return fmt.Errorf("failed to go to the previous page: %w", err)
			}
			logNav(res)
			return nil
		},
	}
}

func NewPagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "pages [delta]",
		Short:   "Move forward or backward by a number of pages",
		GroupID: gNavigation,
		Long: `Move forward or backward by a number of pages.

A negative delta moves backward. Use "--" before negative numbers, e.g.
"tvroll pages -- -2".`,
		RunE: func(_ *cobra.Command, args []string) error {
			delta, err := parseIntArg(args, "delta")
			if err != nil {
				return err
			}

			res, err := apiClient.MovePages(delta)
			if err != nil {
				return fmt.Errorf("failed to move %d pages: %w", delta, err)
			}
			logNav(res)
			return nil
		},
	}
}
