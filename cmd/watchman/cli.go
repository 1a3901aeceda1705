package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tangthinker/watchman/internal/backup"
	"github.com/tangthinker/watchman/internal/client"
	"github.com/tangthinker/watchman/internal/config"
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  watchman [-config file]                 - Run the backup daemon")
	fmt.Fprintln(out, "  watchman add [flags] <source>           - Add a backup schedule")
	fmt.Fprintln(out, "  watchman edit [flags] <index>           - Change a schedule (unset flags keep their value)")
	fmt.Fprintln(out, "  watchman delete <index>                 - Delete a schedule")
	fmt.Fprintln(out, "  watchman run <index>                    - Start a backup now")
	fmt.Fprintln(out, "  watchman list                           - List schedules")
	fmt.Fprintln(out, "  watchman logs [-n lines]                - Show recent log lines")
	fmt.Fprintln(out, "  watchman history [-n runs]              - Show completed runs")
	fmt.Fprintln(out, "\nadd/edit flags: -dest <folder> -period <hours> -ext \"log tmp\" -skip \"node_modules .git\" -zip")
	fmt.Fprintln(out, "\nNote: flags must come before the command's arguments")
}

// 作为客户端运行，返回退出码
func runClient(args []string) int {
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watchman: %v\n", err)
		return 1
	}
	c := client.NewClient(cfg.SocketPath)

	switch args[0] {
	case "add":
		err = cmdAdd(c, args[1:])
	case "edit":
		err = cmdEdit(c, args[1:])
	case "delete":
		err = withIndex("delete", args[1:], c.Delete)
	case "run":
		err = withIndex("run", args[1:], c.Run)
	case "list":
		err = cmdList(c)
	case "logs":
		err = cmdLogs(c, args[1:])
	case "history":
		err = cmdHistory(c, args[1:])
	default:
		usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "watchman: %v\n", err)
		return 1
	}
	return 0
}

type jobFlags struct {
	fs     *flag.FlagSet
	dest   string
	period int
	exts   string
	skip   string
	zip    bool
}

func newJobFlags(name string) *jobFlags {
	f := &jobFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	f.fs.StringVar(&f.dest, "dest", "", "目标目录（add 时默认 ~/BackUp/<源目录名>）")
	f.fs.IntVar(&f.period, "period", backup.DefaultPeriodHours, "备份间隔（小时）")
	f.fs.StringVar(&f.exts, "ext", "", "跳过的扩展名，空格分隔")
	f.fs.StringVar(&f.skip, "skip", "", "跳过的文件夹，空格分隔")
	f.fs.BoolVar(&f.zip, "zip", false, "备份后压缩为 zip")
	return f
}

// apply copies the flags that were set on the command line into d.
func (f *jobFlags) apply(d *backup.Draft) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "dest":
			d.DestPath = f.dest
		case "period":
			d.PeriodHours = f.period
		case "ext":
			d.SkipExtensions = strings.Fields(f.exts)
		case "skip":
			d.SkipFolders = strings.Fields(f.skip)
		case "zip":
			d.ArchiveEnabled = f.zip
		}
	})
}

func cmdAdd(c *client.Client, args []string) error {
	f := newJobFlags("add")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if f.fs.NArg() != 1 {
		return fmt.Errorf("usage: watchman add [flags] <source>")
	}
	d := backup.Draft{SourcePath: f.fs.Arg(0), PeriodHours: backup.DefaultPeriodHours}
	f.apply(&d)

	res, err := c.Add(d)
	if err != nil {
		return err
	}
	fmt.Printf("Added schedule %d: %s -> %s\n", res.Index, d.SourcePath, res.Dest)
	return nil
}

func cmdEdit(c *client.Client, args []string) error {
	f := newJobFlags("edit")
	f.fs.String("source", "", "新的源目录")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if f.fs.NArg() != 1 {
		return fmt.Errorf("usage: watchman edit [flags] <index>")
	}
	index, err := strconv.Atoi(f.fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid index %q", f.fs.Arg(0))
	}

	jobs, err := c.List()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(jobs) {
		return fmt.Errorf("%w: %d", backup.ErrIndexOutOfRange, index)
	}
	cur := jobs[index]
	d := backup.Draft{
		SourcePath:     cur.SourcePath,
		DestPath:       cur.DestPath,
		PeriodHours:    cur.PeriodHours,
		SkipExtensions: cur.SkipExtensions,
		SkipFolders:    cur.SkipFolders,
		ArchiveEnabled: cur.ArchiveEnabled,
	}
	f.apply(&d)
	if src := f.fs.Lookup("source").Value.String(); src != "" {
		d.SourcePath = src
	}

	if err := c.Edit(index, d); err != nil {
		return err
	}
	fmt.Printf("Updated schedule %d\n", index)
	return nil
}

func withIndex(name string, args []string, fn func(int) error) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: watchman %s <index>", name)
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}
	return fn(index)
}

func cmdList(c *client.Client) error {
	jobs, err := c.List()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No backup schedules found")
		return nil
	}

	format := "%-5s %-30s %-30s %-7s %-20s %-16s %-8s %s\n"
	fmt.Printf(format, "INDEX", "SOURCE", "DEST", "PERIOD", "SKIP", "LAST RUN", "ZIP", "STATUS")
	for i, j := range jobs {
		var status string
		if j.Running {
			status = "running"
		} else if next := j.NextRunAt(); next.After(time.Now()) {
			status = "next " + humanize.Time(next)
		} else {
			status = "due"
		}
		skip := strings.TrimSpace(j.SkipExtensions.String() + " " + j.SkipFolders.String())
		if skip == "" {
			skip = "-"
		}
		fmt.Printf(format,
			strconv.Itoa(i),
			truncate(j.SourcePath, 30),
			truncate(j.DestPath, 30),
			fmt.Sprintf("%dh", j.PeriodHours),
			truncate(skip, 20),
			humanize.Time(j.LastRunAt),
			strconv.FormatBool(j.ArchiveEnabled),
			status,
		)
	}
	return nil
}

func cmdLogs(c *client.Client, args []string) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	n := fs.Int("n", 50, "显示的行数，0 表示全部")
	if err := fs.Parse(args); err != nil {
		return err
	}
	lines, err := c.Logs(*n)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

func cmdHistory(c *client.Client, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	n := fs.Int("n", 20, "显示的记录数，0 表示全部")
	if err := fs.Parse(args); err != nil {
		return err
	}
	recs, err := c.History(*n)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No completed runs")
		return nil
	}

	format := "%-19s %-8s %-30s %-8s %-10s %-7s %-8s %s\n"
	fmt.Printf(format, "FINISHED", "RESULT", "SOURCE", "FILES", "SIZE", "FAILED", "TOOK", "ARCHIVE")
	for _, r := range recs {
		result := "ok"
		if !r.Success {
			result = "failed"
		}
		archive := r.Archive
		if archive == "" {
			archive = "-"
		}
		fmt.Printf(format,
			r.FinishedAt.Format("2006-01-02 15:04:05"),
			result,
			truncate(r.Source, 30),
			humanize.Comma(int64(r.Files)),
			humanize.Bytes(uint64(r.Bytes)),
			strconv.Itoa(r.Failed),
			r.Duration().Round(time.Second).String(),
			archive,
		)
	}
	return nil
}

// 如果路径太长，截断并添加...
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
