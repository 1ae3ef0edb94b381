package prompt

import "github.com/MakeNowJust/heredoc"

const fence = "```"

// DemandAnalysis asks for the product modality of a task.
func DemandAnalysis(task string) string {
	return heredoc.Docf(`
		Analyze the following task and determine the product modality:

		Task: %s

		Please analyze the requirements and determine what type of product this should be.
		Respond with the modality in the format: <INFO>MODALITY</INFO>

		Examples:
		- For a web application: <INFO>Website</INFO>
		- For a desktop application: <INFO>Application</INFO>
		- For a game: <INFO>Game</INFO>
		- For a command-line tool: <INFO>CLI Tool</INFO>
		`, task)
}

// ProductDecision feeds the CEO analysis to the CPO.
func ProductDecision(task, ceoAnalysis string) string {
	return DemandAnalysis(task) + "\n\nCEO Analysis:\n" + ceoAnalysis
}

// LanguageSelection asks for the implementation language.
func LanguageSelection(task, modality string) string {
	return heredoc.Docf(`
		Based on the task and product modality, select the appropriate programming language:

		Task: %s
		Modality: %s

		Select the best programming language for this project.
		Respond with: <INFO>LANGUAGE</INFO>

		Examples: Python, JavaScript, Java, C++, etc.
		`, task, modality)
}

// Coding asks for the complete initial file set.
func Coding(task, modality, language string) string {
	return heredoc.Docf(`
		Write the code for the following task:

		Task: %[1]s
		Modality: %[2]s
		Language: %[3]s

		Please write complete, runnable code for every file needed. Use the following format for each file:

		filename.extension
		%[4]slanguage
		CODE_CONTENT
		%[4]s

		CRITICAL INSTRUCTIONS:
		1. Provide the FULL content for every file. Partial code or snippets are NOT allowed.
		2. DO NOT include file trees (like └──) or directory diagrams.
		3. DO NOT include installation instructions (like "Run pip install...") outside of a README.md if you choose to provide one.
		4. Each file must be preceded by its filename on a single line, followed immediately by its code block.
		5. Do not include any sentences that look like filenames between code blocks.
		`, task, modality, language, fence)
}

// CodeReview asks the reviewer to judge the current files.
func CodeReview(task, language, codes string) string {
	return heredoc.Docf(`
		Review the following code:

		Task: %s
		Language: %s

		Current Code:
		%s

		Please review the code for:
		1. Code quality and readability
		2. Potential bugs or issues
		3. Best practices adherence
		4. Completeness

		If the code is satisfactory, respond with: <INFO>Finished</INFO>
		Otherwise, provide specific feedback on what needs to be improved.
		`, task, language, codes)
}

// Testing asks the tester to analyze a test run.
func Testing(task, language, report, errors, codes string) string {
	return heredoc.Docf(`
		Analyze the test results and identify any issues:

		Task: %s
		Language: %s

		Test Results:
		%s

		Errors:
		%s

		Current Code:
		%s

		Please analyze the test output and errors. Identify the root causes and suggest fixes.
		If no errors are found, respond with: <INFO>No errors</INFO>
		Otherwise, provide a detailed analysis of the issues.
		`, task, language, report, errors, codes)
}

// FixCode asks the programmer to apply critic feedback.
func FixCode(task, language, feedback, codes string) string {
	return heredoc.Docf(`
		Fix the code based on the following feedback:

		Task: %[1]s
		Language: %[2]s

		Feedback:
		%[3]s

		Current Code:
		%[4]s

		Please fix the issues and provide the corrected code for ALL files. Even if you only modified one file, provide the FULL corrected code for that file.

		Format:
		filename.extension
		%[5]slanguage
		CODE_CONTENT
		%[5]s

		Follow the same critical instructions: no file trees, no snippets, full file content only.
		`, task, language, feedback, codes, fence)
}

// Repair asks the debugger to fix a program that exited with an error.
func Repair(path, stderr, source string) string {
	return heredoc.Docf(`
		The program %[1]s failed when executed.

		Error output:
		%[2]s

		Full source of %[1]s:
		%[3]s
		%[4]s
		%[3]s

		Return the complete corrected file in a single fenced code block.
		`, path, stderr, fence, source)
}
