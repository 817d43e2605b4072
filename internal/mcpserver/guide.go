package mcpserver

// PublishingGuide describes how articles, versions and transactions behave,
// for LLM consumers about to publish.
const PublishingGuide = `# distwiki Publishing Guide

Articles live in two places: the text is stored on IPFS, and an Ethereum
registry contract records, per title, the list of content ids that make up
its history.

## Titles

1. A title is at most **32 bytes of UTF-8**. Non-ASCII characters take 2 to 4
   bytes each, so "日本語" is 9 bytes.
2. Titles are unique. Publishing an existing title fails; revise it instead.
3. A title may contain ` + "`" + `/` + "`" + ` to group articles (` + "`" + `lang/Go` + "`" + `). No segment may be
   empty or start with ` + "`" + `.` + "`" + `.
4. Titles cannot be renamed or deleted.

## Versions

- Every publish or revise appends one version; versions count from 0.
- Old versions stay readable with ` + "`" + `read_article` + "`" + ` and a ` + "`" + `version` + "`" + ` index.
- Only the author and the accounts listed in ` + "`" + `authorized` + "`" + ` at creation can revise.

## Transactions

- A publish returns as soon as its transaction is broadcast. Its status starts
  as ` + "`" + `pending` + "`" + ` and becomes ` + "`" + `success` + "`" + ` or ` + "`" + `failed` + "`" + ` once mined; check with
  ` + "`" + `recent_actions` + "`" + `.
- A new article is not visible in ` + "`" + `list_titles` + "`" + ` until its transaction succeeds.
- Each transaction costs gas; ` + "`" + `estimate_cost` + "`" + ` gives the current price in wei.
- ` + "`" + `failed` + "`" + ` means the contract rejected the call, for example a second create
  for the same title that raced the first.
`
