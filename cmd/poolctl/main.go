package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/fatih/color"

	"sandboxd/executor"
)

// poolctl inspects and cleans up pool containers left behind by a
// crashed engine. Containers are matched by the pool label, so nothing
// else on the host is ever touched.

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		color.Red("Cannot reach Docker daemon: %v", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "list":
		err = list(ctx, cli)
	case "purge":
		err = purge(ctx, cli)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: poolctl <list|purge>")
	fmt.Println("  list   show pool containers")
	fmt.Println("  purge  force-remove all pool containers")
}

func poolContainers(ctx context.Context, cli *client.Client) ([]types.Container, error) {
	return cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", executor.LabelPool+"=true")),
	})
}

func list(ctx context.Context, cli *client.Client) error {
	containers, err := poolContainers(ctx, cli)
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		color.Yellow("No pool containers found")
		return nil
	}

	for _, c := range containers {
		language := c.Labels[executor.LabelLanguage]
		age := time.Since(time.Unix(c.Created, 0)).Round(time.Second)
		line := fmt.Sprintf("%-14s %-8s %-10s %s", c.ID[:12], language, c.State, age)
		if c.State == "running" {
			color.Green(line)
		} else {
			color.Red(line)
		}
	}
	fmt.Printf("%d pool container(s)\n", len(containers))
	return nil
}

func purge(ctx context.Context, cli *client.Client) error {
	containers, err := poolContainers(ctx, cli)
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		color.Yellow("Nothing to purge")
		return nil
	}

	removed := 0
	for _, c := range containers {
		err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			color.Red("Failed to remove %s: %v", c.ID[:12], err)
			continue
		}
		color.Green("Removed %s (%s)", c.ID[:12], c.Labels[executor.LabelLanguage])
		removed++
	}
	fmt.Printf("Removed %d of %d pool container(s)\n", removed, len(containers))
	return nil
}
