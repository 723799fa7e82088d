package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	zerosvc "github.com/zeromicro/go-zero/core/service"

	"dao-voting-sol/internal/logic/domain"
	"dao-voting-sol/internal/logic/pda"
	"dao-voting-sol/internal/logic/submitter"
	"dao-voting-sol/internal/service"
	"dao-voting-sol/internal/svc"
	"dao-voting-sol/internal/types"
)

const defaultVotingDuration = 3 * 24 * 3600

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func requireID(fs *flag.FlagSet, id *int64) error {
	if *id < 0 {
		fs.Usage()
		return errors.New("-id is required")
	}
	return nil
}

func printResult(res *submitter.Result) {
	if res == nil {
		return
	}
	fmt.Printf("outcome:   %s\n", res.Outcome)
	if res.Signature != "" {
		fmt.Printf("signature: %s\n", res.Signature)
	}
	fmt.Printf("trail:     %v\n", res.Trail)
	if res.Reason != nil {
		fmt.Printf("reason:    %v\n", res.Reason)
	}
}

func runInit(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("init")
	name := fs.String("name", "", "dao name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		fs.Usage()
		return errors.New("-name is required")
	}
	res, err := sc.Dao.Initialize(ctx, *name)
	printResult(res)
	return err
}

func runCreate(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("create")
	title := fs.String("title", "", "proposal title")
	desc := fs.String("desc", "", "proposal description")
	duration := fs.Int64("duration", defaultVotingDuration, "voting duration in seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" {
		fs.Usage()
		return errors.New("-title is required")
	}
	res, err := sc.Dao.CreateProposal(ctx, *title, *desc, *duration)
	if res != nil {
		fmt.Printf("proposal:  #%d %s (attempts %d)\n", res.ProposalID, res.Address, res.Attempts)
		printResult(res.Result)
	}
	return err
}

func runVote(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("vote")
	id := fs.Int64("id", -1, "proposal id")
	choiceStr := fs.String("choice", "", "yes | no | abstain")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(fs, id); err != nil {
		return err
	}
	choice, err := domain.ParseVoteChoice(*choiceStr)
	if err != nil {
		return err
	}
	res, err := sc.Dao.CastVote(ctx, uint64(*id), choice)
	printResult(res)
	return err
}

func runFinalize(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("finalize")
	id := fs.Int64("id", -1, "proposal id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(fs, id); err != nil {
		return err
	}
	res, err := sc.Dao.FinalizeProposal(ctx, uint64(*id))
	printResult(res)
	return err
}

func runList(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("list")
	statusStr := fs.String("status", "", "filter by status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var filter *domain.ProposalStatus
	if *statusStr != "" {
		st, err := domain.ParseProposalStatus(*statusStr)
		if err != nil {
			return err
		}
		filter = &st
	}

	proposals, err := sc.Repository.ListProposals(ctx)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tYES\tNO\tABSTAIN\tEXPIRES\tTITLE")
	for _, p := range proposals {
		if filter != nil && p.Status != *filter {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
			p.ID, statusLabel(p, now), p.YesVotes, p.NoVotes, p.AbstainVotes, formatUnix(p.ExpiresAt), p.Title)
	}
	return w.Flush()
}

func runShow(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("show")
	id := fs.Int64("id", -1, "proposal id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(fs, id); err != nil {
		return err
	}
	p, err := sc.Repository.FetchProposal(ctx, uint64(*id))
	if err != nil {
		return err
	}
	addr, _, err := pda.ProposalAddress(sc.Repository.Program(), p.ID)
	if err != nil {
		return err
	}
	fmt.Printf("proposal #%d  %s\n", p.ID, addr)
	fmt.Printf("title:       %s\n", p.Title)
	fmt.Printf("description: %s\n", p.Description)
	fmt.Printf("creator:     %s\n", p.Creator)
	fmt.Printf("status:      %s\n", statusLabel(p, time.Now().Unix()))
	fmt.Printf("votes:       yes %d / no %d / abstain %d\n", p.YesVotes, p.NoVotes, p.AbstainVotes)
	fmt.Printf("created:     %s\n", formatUnix(p.CreatedAt))
	fmt.Printf("expires:     %s\n", formatUnix(p.ExpiresAt))
	return nil
}

func runHistory(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("history")
	voterStr := fs.String("voter", "", "voter pubkey (default: configured keypair)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	voter, err := resolveVoter(sc, *voterStr)
	if err != nil {
		return err
	}
	entries, err := sc.Query.VotingHistory(ctx, voter)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VOTED AT\tID\tCHOICE\tSTATUS\tTITLE")
	now := time.Now().Unix()
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			formatUnix(e.Vote.Timestamp), e.Proposal.ID, e.Vote.Choice, statusLabel(e.Proposal, now), e.Proposal.Title)
	}
	return w.Flush()
}

func runStats(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("stats")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := sc.Query.ProposalStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("dao:               %s\n", st.DaoName)
	fmt.Printf("authority:         %s\n", st.Authority)
	fmt.Printf("proposals:         %d\n", st.Total)
	fmt.Printf("  active:          %d (awaiting finalize %d)\n", st.Active, st.AwaitingFinalize)
	fmt.Printf("  passed:          %d\n", st.Passed)
	fmt.Printf("  rejected:        %d\n", st.Rejected)
	fmt.Printf("  expired:         %d\n", st.Expired)
	fmt.Printf("votes:             %d\n", st.Votes)
	return nil
}

func runVoters(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("voters")
	id := fs.Int64("id", -1, "proposal id")
	limit := fs.Int("limit", 100, "max transactions to scan")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireID(fs, id); err != nil {
		return err
	}
	records, err := sc.Query.ProposalVoters(ctx, uint64(*id), *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VOTED AT\tVOTER\tCHOICE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", formatUnix(r.Timestamp), r.Voter, r.Choice)
	}
	return w.Flush()
}

func runDerive(_ context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("derive")
	id := fs.Int64("id", -1, "proposal id")
	voterStr := fs.String("voter", "", "voter pubkey (requires -id)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	program := sc.Repository.Program()
	dao, bump, err := pda.DaoStateAddress(program)
	if err != nil {
		return err
	}
	fmt.Printf("program:    %s\n", program)
	fmt.Printf("dao_state:  %s (bump %d)\n", dao, bump)
	if *id < 0 {
		return nil
	}
	prop, bump, err := pda.ProposalAddress(program, uint64(*id))
	if err != nil {
		return err
	}
	fmt.Printf("proposal:   %s (bump %d)\n", prop, bump)
	if *voterStr == "" {
		return nil
	}
	voter, err := types.TryPubkeyFromBase58(*voterStr)
	if err != nil {
		return fmt.Errorf("-voter: %w", err)
	}
	vote, bump, err := pda.VoteRecordAddress(program, prop, voter)
	if err != nil {
		return err
	}
	fmt.Printf("vote:       %s (bump %d)\n", vote, bump)
	return nil
}

func runWatch(ctx context.Context, sc *svc.ServiceContext, args []string) error {
	fs := newFlags("watch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	watcher := service.NewWatchService(sc.Repository, sc.Config.Watch.Interval(), printChange)

	sg := zerosvc.NewServiceGroup()
	sg.Add(watcher)
	go func() {
		<-ctx.Done()
		sg.Stop()
	}()

	fmt.Printf("watching proposals every %s, Ctrl-C to stop\n", sc.Config.Watch.Interval())
	sg.Start()
	return nil
}

func printChange(c service.Change) {
	p := c.Current
	switch c.Kind {
	case service.ChangeProposalAppeared:
		fmt.Printf("[%s] #%d new proposal %q by %s\n", time.Now().Format(time.TimeOnly), p.ID, p.Title, p.Creator)
	case service.ChangeStatusChanged:
		fmt.Printf("[%s] #%d %s -> %s\n", time.Now().Format(time.TimeOnly), p.ID, c.Previous.Status, p.Status)
	case service.ChangeVotesChanged:
		fmt.Printf("[%s] #%d votes yes %d / no %d / abstain %d\n",
			time.Now().Format(time.TimeOnly), p.ID, p.YesVotes, p.NoVotes, p.AbstainVotes)
	}
}

// resolveVoter 未指定时使用配置中的密钥
func resolveVoter(sc *svc.ServiceContext, s string) (types.Pubkey, error) {
	if s != "" {
		return types.TryPubkeyFromBase58(s)
	}
	if err := sc.WithSigner(); err != nil {
		return types.Pubkey{}, fmt.Errorf("-voter not given and no keypair: %w", err)
	}
	return sc.Signer.PublicKey(), nil
}

// statusLabel active 且已过截止时间的提案显示为 "active (ended)"
func statusLabel(p *domain.Proposal, now int64) string {
	if p.Status == domain.StatusActive && p.IsExpired(now) {
		return "active (ended)"
	}
	return p.Status.String()
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
