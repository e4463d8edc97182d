package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/yungbote/coursestore-backend/internal/app"
	"github.com/yungbote/coursestore-backend/internal/keys"
)

type courseList []string

func (l *courseList) String() string { return strings.Join(*l, ",") }
func (l *courseList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

func main() {
	var courses courseList
	var dryRun bool
	var user string
	flag.Var(&courses, "course", "course key to sweep (repeatable, default all courses)")
	flag.BoolVar(&dryRun, "dry-run", false, "list orphans without deleting them")
	flag.StringVar(&user, "user", "orphan-sweep", "user recorded as editor of the deletion")
	flag.Parse()

	ctx := context.Background()
	application, err := app.New(ctx)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()
	store := application.Services.Store

	var targets []keys.CourseKey
	if len(courses) > 0 {
		for _, raw := range courses {
			ck, err := keys.ParseCourseKey(raw)
			if err != nil {
				fmt.Printf("skip %q: %v\n", raw, err)
				continue
			}
			targets = append(targets, ck)
		}
	} else {
		roots, err := store.GetCourses(ctx)
		if err != nil {
			fmt.Printf("list courses: %v\n", err)
			os.Exit(1)
		}
		for _, root := range roots {
			targets = append(targets, root.Key.Course)
		}
	}

	total := 0
	for _, ck := range targets {
		removed, err := store.DeleteOrphans(ctx, ck, user, !dryRun)
		if err != nil {
			fmt.Printf("%s: %v\n", ck, err)
			continue
		}
		for _, k := range removed {
			fmt.Printf("%s\t%s\n", ck, k)
		}
		total += len(removed)
	}
	verb := "deleted"
	if dryRun {
		verb = "found"
	}
	fmt.Printf("%s %d orphans across %d courses\n", verb, total, len(targets))
}
