package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/google/uuid"

	"github.com/aryanshm/foliage/pkg/foliage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "init":
		cmdInit(args)
	case "whoami", "contact", "add-contact", "register",
		"create", "get", "list", "update", "delete", "set-public",
		"share", "unshare", "inbox", "accept",
		"branch", "branches", "delete-branch", "search":
		runWithEngine(cmd, args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`foliaged - Encrypted document engine over a replicated graph

Usage: foliaged <command> [options]

Identity:
  init          Create an encrypted identity
  whoami        Show the signed-in identity's public keys
  register      Publish this identity in the alias directory
  contact       Show a signed contact card as a QR code
  add-contact   Verify and import a peer's contact card

Documents:
  create        Create a document (private by default)
  get           Read a document by ID
  list          List all documents
  update        Update a document's fields
  delete        Delete a document
  set-public    Convert a document between public and private
  search        Full-text search over your documents

Sharing:
  share         Grant a contact access to a document
  unshare       Remove a contact's grant (does not rotate the key)
  inbox         List pending share offers
  accept        Accept a share offer

Branches:
  branch        Fork a document
  branches      List a document's immediate branches
  delete-branch Delete a branch (roots are refused)

Examples:
  foliaged create --title "groceries" --content "eggs, flour" --tags home
  foliaged share <uuid> --with bob
  foliaged branch <uuid>`)
}

func dataDirFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--data" && i+1 < len(args) {
			return args[i+1]
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".foliage"
	}
	return filepath.Join(home, ".foliage")
}

func runWithEngine(cmd string, args []string) {
	dataDir := dataDirFromArgs(args)

	e, err := foliage.New(foliage.Config{DataDir: dataDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	if !e.HasIdentity() {
		fmt.Fprintln(os.Stderr, "No identity found. Run 'foliaged init' first.")
		os.Exit(1)
	}

	fmt.Print("Passphrase: ")
	passphrase, err := readPassword()
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError reading passphrase: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()

	ctx := context.Background()
	if err := e.SignIn(ctx, passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer e.SignOut()

	switch cmd {
	case "whoami":
		cmdWhoami(e)
	case "contact":
		cmdContact(e)
	case "add-contact":
		cmdAddContact(ctx, e, args)
	case "register":
		cmdRegister(ctx, e)
	case "create":
		cmdCreate(ctx, e, args)
	case "get":
		cmdGet(ctx, e, args)
	case "list":
		cmdList(ctx, e)
	case "update":
		cmdUpdate(ctx, e, args)
	case "delete":
		cmdDelete(ctx, e, args)
	case "set-public":
		cmdSetPublic(ctx, e, args)
	case "share":
		cmdShare(ctx, e, args)
	case "unshare":
		cmdUnshare(ctx, e, args)
	case "inbox":
		cmdInbox(ctx, e)
	case "accept":
		cmdAccept(ctx, e, args)
	case "branch":
		cmdBranch(ctx, e, args)
	case "branches":
		cmdBranches(ctx, e, args)
	case "delete-branch":
		cmdDeleteBranch(ctx, e, args)
	case "search":
		cmdSearch(ctx, e, args)
	}
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	alias := fs.String("alias", "", "Username other people share to")
	dataDir := fs.String("data", "", "Data directory (default: ~/.foliage)")
	fs.Parse(args)

	if *alias == "" {
		fmt.Fprintln(os.Stderr, "Usage: foliaged init --alias <name>")
		os.Exit(1)
	}

	dir := *dataDir
	if dir == "" {
		dir = dataDirFromArgs(nil)
	}

	e, err := foliage.New(foliage.Config{DataDir: dir})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer e.Close()

	if e.HasIdentity() {
		fmt.Println("Identity already initialized.")
		return
	}

	fmt.Print("Enter new passphrase: ")
	pass1, err := readPassword()
	if err != nil {
		log.Fatalf("\nError reading passphrase: %v", err)
	}
	fmt.Print("\nConfirm passphrase: ")
	pass2, err := readPassword()
	if err != nil {
		log.Fatalf("\nError reading passphrase: %v", err)
	}
	fmt.Println()

	if string(pass1) != string(pass2) {
		fmt.Println("Passphrases do not match!")
		os.Exit(1)
	}

	if err := e.InitIdentity(*alias, pass1); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Identity %q initialized at %s\n", *alias, dir)
}

func cmdWhoami(e *foliage.Engine) {
	me, err := e.Whoami()
	if err != nil {
		fatal(err)
	}
	out, _ := json.MarshalIndent(me, "", "  ")
	fmt.Println(string(out))
}

func cmdContact(e *foliage.Engine) {
	qr, err := e.ContactQR()
	if err != nil {
		fatal(err)
	}
	fmt.Println(qr)
}

func cmdAddContact(ctx context.Context, e *foliage.Engine, args []string) {
	args = stripDataFlag(args)
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: foliaged add-contact <card>")
		os.Exit(1)
	}
	contact, err := e.AddContact(ctx, args[0])
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Added contact %q\n", contact.Alias)
}

func cmdRegister(ctx context.Context, e *foliage.Engine) {
	if err := e.Register(ctx); err != nil {
		fatal(err)
	}
	fmt.Println("Registered.")
}

func cmdCreate(ctx context.Context, e *foliage.Engine, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	title := fs.String("title", "", "Document title")
	content := fs.String("content", "", "Document content")
	tagsStr := fs.String("tags", "", "Comma-separated tags")
	public := fs.Bool("public", false, "Store in plaintext, readable by anyone")
	fs.String("data", "", "Data directory")
	fs.Parse(args)

	doc, err := e.CreateDocument(ctx, foliage.CreateDocumentInput{
		Title:    *title,
		Content:  *content,
		Tags:     splitTags(*tagsStr),
		IsPublic: *public,
	})
	if err != nil {
		fatal(err)
	}
	printDocument(doc)
}

func cmdGet(ctx context.Context, e *foliage.Engine, args []string) {
	doc, err := e.GetDocument(ctx, parseID(args, "get"))
	if err != nil {
		fatal(err)
	}
	printDocument(doc)
}

func cmdList(ctx context.Context, e *foliage.Engine) {
	docs, err := e.ListDocuments(ctx)
	if err != nil {
		fatal(err)
	}
	if len(docs) == 0 {
		fmt.Println("No documents found.")
		return
	}
	for _, doc := range docs {
		marker := "private"
		if doc.IsPublic {
			marker = "public"
		}
		if doc.Parent != nil {
			marker += ", branch"
		}
		fmt.Printf("%s [%s] %s\n", doc.ID.String()[:8], marker, doc.Title)
	}
}

func cmdUpdate(ctx context.Context, e *foliage.Engine, args []string) {
	id := parseID(args, "update")
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	title := fs.String("title", "", "New title")
	content := fs.String("content", "", "New content")
	tagsStr := fs.String("tags", "", "New comma-separated tags")
	fs.String("data", "", "Data directory")
	fs.Parse(args[1:])

	input := foliage.UpdateDocumentInput{}
	if *title != "" {
		input.Title = title
	}
	if *content != "" {
		input.Content = content
	}
	if *tagsStr != "" {
		tags := splitTags(*tagsStr)
		input.Tags = &tags
	}
	if err := e.UpdateDocument(ctx, id, input); err != nil {
		fatal(err)
	}
	fmt.Println("Updated.")
}

func cmdDelete(ctx context.Context, e *foliage.Engine, args []string) {
	if err := e.DeleteDocument(ctx, parseID(args, "delete")); err != nil {
		fatal(err)
	}
	fmt.Println("Deleted.")
}

func cmdSetPublic(ctx context.Context, e *foliage.Engine, args []string) {
	id := parseID(args, "set-public")
	fs := flag.NewFlagSet("set-public", flag.ExitOnError)
	private := fs.Bool("private", false, "Convert to private instead")
	fs.String("data", "", "Data directory")
	fs.Parse(args[1:])

	if err := e.SetDocumentPublic(ctx, id, !*private); err != nil {
		fatal(err)
	}
	fmt.Println("Converted.")
}

func cmdShare(ctx context.Context, e *foliage.Engine, args []string) {
	id := parseID(args, "share")
	fs := flag.NewFlagSet("share", flag.ExitOnError)
	with := fs.String("with", "", "Recipient alias")
	fs.String("data", "", "Data directory")
	fs.Parse(args[1:])

	if *with == "" {
		fmt.Fprintln(os.Stderr, "Usage: foliaged share <uuid> --with <alias>")
		os.Exit(1)
	}
	if err := e.ShareDocument(ctx, id, *with); err != nil {
		fatal(err)
	}
	fmt.Printf("Shared with %q.\n", *with)
}

func cmdUnshare(ctx context.Context, e *foliage.Engine, args []string) {
	id := parseID(args, "unshare")
	fs := flag.NewFlagSet("unshare", flag.ExitOnError)
	with := fs.String("with", "", "Recipient alias")
	fs.String("data", "", "Data directory")
	fs.Parse(args[1:])

	if *with == "" {
		fmt.Fprintln(os.Stderr, "Usage: foliaged unshare <uuid> --with <alias>")
		os.Exit(1)
	}
	contact, err := e.Discover(ctx, *with)
	if err != nil {
		fatal(err)
	}
	if err := e.UnshareDocument(ctx, id, contact.Pub); err != nil {
		fatal(err)
	}
	fmt.Printf("Unshared from %q. Note: previously distributed key copies remain valid.\n", *with)
}

func cmdInbox(ctx context.Context, e *foliage.Engine) {
	notes, err := e.Inbox(ctx)
	if err != nil {
		fatal(err)
	}
	if len(notes) == 0 {
		fmt.Println("Inbox is empty.")
		return
	}
	for _, note := range notes {
		fmt.Printf("%s from %q\n", note.DocID[:8], note.OwnerAlias)
	}
}

func cmdAccept(ctx context.Context, e *foliage.Engine, args []string) {
	doc, err := e.AcceptShare(ctx, parseID(args, "accept"))
	if err != nil {
		fatal(err)
	}
	printDocument(doc)
}

func cmdBranch(ctx context.Context, e *foliage.Engine, args []string) {
	branch, err := e.CreateBranch(ctx, parseID(args, "branch"))
	if err != nil {
		fatal(err)
	}
	printDocument(branch)
}

func cmdBranches(ctx context.Context, e *foliage.Engine, args []string) {
	id := parseID(args, "branches")
	fs := flag.NewFlagSet("branches", flag.ExitOnError)
	all := fs.Bool("all", false, "Include transitive branches")
	fs.String("data", "", "Data directory")
	fs.Parse(args[1:])

	var (
		branches []*foliage.Document
		err      error
	)
	if *all {
		branches, err = e.Descendants(ctx, id)
	} else {
		branches, err = e.ListBranches(ctx, id)
	}
	if err != nil {
		fatal(err)
	}
	if len(branches) == 0 {
		fmt.Println("No branches.")
		return
	}
	for _, doc := range branches {
		fmt.Printf("%s %s\n", doc.ID.String()[:8], doc.Title)
	}
}

func cmdDeleteBranch(ctx context.Context, e *foliage.Engine, args []string) {
	if err := e.DeleteBranch(ctx, parseID(args, "delete-branch")); err != nil {
		fatal(err)
	}
	fmt.Println("Branch deleted.")
}

func cmdSearch(ctx context.Context, e *foliage.Engine, args []string) {
	args = stripDataFlag(args)
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: foliaged search <query> [--tags a,b]")
		os.Exit(1)
	}
	query := args[0]
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	tagsStr := fs.String("tags", "", "Require all of these tags")
	fs.Parse(args[1:])

	docs, err := e.SearchDocuments(ctx, query, splitTags(*tagsStr))
	if err != nil {
		fatal(err)
	}
	if len(docs) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, doc := range docs {
		fmt.Printf("%s %s\n", doc.ID.String()[:8], doc.Title)
	}
}

func parseID(args []string, cmd string) uuid.UUID {
	args = stripDataFlag(args)
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: foliaged %s <uuid>\n", cmd)
		os.Exit(1)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid document id %q\n", args[0])
		os.Exit(1)
	}
	return id
}

// stripDataFlag drops a leading --data pair so positional arguments stay
// positional.
func stripDataFlag(args []string) []string {
	out := make([]string, 0, len(args))
	skip := false
	for _, arg := range args {
		if skip {
			skip = false
			continue
		}
		if arg == "--data" {
			skip = true
			continue
		}
		out = append(out, arg)
	}
	return out
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	tags := strings.Split(s, ",")
	for i, t := range tags {
		tags[i] = strings.TrimSpace(t)
	}
	return tags
}

func printDocument(doc *foliage.Document) {
	data := map[string]interface{}{
		"id":       doc.ID.String(),
		"title":    doc.Title,
		"content":  doc.Content,
		"tags":     doc.Tags,
		"isPublic": doc.IsPublic,
	}
	if doc.Parent != nil {
		data["parent"] = doc.Parent.String()
	}
	if doc.Original != nil {
		data["original"] = doc.Original.String()
	}
	if len(doc.Access) > 0 {
		shared := make([]string, len(doc.Access))
		for i, grant := range doc.Access {
			shared[i] = grant.UserID
		}
		data["sharedWith"] = shared
	}
	out, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(out))
}

func readPassword() ([]byte, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		// Fallback for non-interactive
		var password string
		fmt.Scanln(&password)
		return []byte(password), nil
	}
	return term.ReadPassword(fd)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
